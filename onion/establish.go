// Package onion implements the service-side onion service cell codecs and
// credential computations: the ESTABLISH_INTRO cell a service sends to
// register at an introduction point, the INTRODUCE1/INTRODUCE2 and
// RENDEZVOUS1/RENDEZVOUS2 bodies bootstrapping a client connection, and the
// time-period / blinding / subcredential derivations that version the
// service's rotating credentials.
package onion

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgotrik/tor/hsntor"
)

// AuthKeyTypeEd25519 is the ESTABLISH_INTRO AUTH_KEY_TYPE for ed25519 keys.
const AuthKeyTypeEd25519 = 0x02

const (
	establishIntroSigPrefix  = "Tor establish-intro cell v1"
	establishIntroAuthKeyLen = 32
	establishIntroMACLen     = 32
	establishIntroSigLen     = 64
)

// Verification failures are distinguishable so the introduction point can
// log a precise cause; policy treats both identically as "reject this cell".
var (
	ErrHandshakeMAC  = errors.New("ESTABLISH_INTRO handshake MAC mismatch")
	ErrCellSignature = errors.New("ESTABLISH_INTRO signature verification failed")
)

// EstablishIntroExtension is one TLV extension record in an ESTABLISH_INTRO
// cell.
type EstablishIntroExtension struct {
	Type byte
	Data []byte
}

// EstablishIntroCell is the message a service sends an introduction point to
// register itself. The HandshakeMAC binds the cell to the circuit it is sent
// on; the Signature covers everything before it, under the cell's own
// AuthKey.
type EstablishIntroCell struct {
	AuthKeyType  byte
	AuthKey      [establishIntroAuthKeyLen]byte
	Extensions   []EstablishIntroExtension
	HandshakeMAC [establishIntroMACLen]byte
	Signature    [establishIntroSigLen]byte
}

// Signer produces prefixed ed25519 signatures for cell authentication. It is
// passed in rather than reached for globally so tests can substitute a
// failing implementation.
type Signer interface {
	// PublicKey returns the 32-byte public half of the signing keypair.
	PublicKey() [32]byte
	// SignPrefixed signs prefix||msg.
	SignPrefixed(prefix string, msg []byte) ([establishIntroSigLen]byte, error)
}

// Ed25519Signer is the production Signer backed by crypto/ed25519.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer generates a fresh introduction-point auth keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv}, nil
}

// Ed25519SignerFromKey wraps an existing auth private key.
func Ed25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

func (s *Ed25519Signer) PublicKey() [32]byte {
	var pk [32]byte
	copy(pk[:], s.priv.Public().(ed25519.PublicKey))
	return pk
}

func (s *Ed25519Signer) SignPrefixed(prefix string, msg []byte) ([establishIntroSigLen]byte, error) {
	var sig [establishIntroSigLen]byte
	input := make([]byte, 0, len(prefix)+len(msg))
	input = append(input, prefix...)
	input = append(input, msg...)
	copy(sig[:], ed25519.Sign(s.priv, input))
	return sig, nil
}

// GenerateEstablishIntroCell builds and signs an ESTABLISH_INTRO cell.
// circuitKeyMaterial is the KH secret shared with the introduction point
// over the underlying circuit; the MAC over it ties the cell to that exact
// circuit so it cannot be replayed elsewhere. On signing failure no cell is
// returned and a warning is logged.
func GenerateEstablishIntroCell(signer Signer, circuitKeyMaterial []byte, logger *slog.Logger) (*EstablishIntroCell, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &EstablishIntroCell{
		AuthKeyType: AuthKeyTypeEd25519,
		AuthKey:     signer.PublicKey(),
	}

	prefix := c.appendPrefix(nil)
	c.HandshakeMAC = hsntor.MAC(circuitKeyMaterial, prefix)

	signed := append(prefix, c.HandshakeMAC[:]...)
	sig, err := signer.SignPrefixed(establishIntroSigPrefix, signed)
	if err != nil {
		logger.Warn("unable to generate signature for ESTABLISH_INTRO cell", "err", err)
		return nil, fmt.Errorf("sign ESTABLISH_INTRO cell: %w", err)
	}
	c.Signature = sig
	return c, nil
}

// EncodedLen returns the wire size of the cell.
func (c *EstablishIntroCell) EncodedLen() int {
	n := 1 + 2 + establishIntroAuthKeyLen + 1
	for _, ext := range c.Extensions {
		n += 2 + len(ext.Data)
	}
	return n + establishIntroMACLen + 2 + establishIntroSigLen
}

// Encode serializes the cell into buf, which is bounded by the relay-cell
// payload capacity. Returns the number of bytes written, or an error without
// touching buf if the encoding would not fit.
func (c *EstablishIntroCell) Encode(buf []byte) (int, error) {
	if len(c.Extensions) > 255 {
		return 0, fmt.Errorf("too many extensions: %d", len(c.Extensions))
	}
	for i, ext := range c.Extensions {
		if len(ext.Data) > 255 {
			return 0, fmt.Errorf("extension %d too large: %d bytes", i, len(ext.Data))
		}
	}
	need := c.EncodedLen()
	if need > len(buf) {
		return 0, fmt.Errorf("ESTABLISH_INTRO cell needs %d bytes, buffer has %d", need, len(buf))
	}

	b := c.appendPrefix(buf[:0])
	b = append(b, c.HandshakeMAC[:]...)
	b = binary.BigEndian.AppendUint16(b, establishIntroSigLen)
	b = append(b, c.Signature[:]...)
	return len(b), nil
}

// ParseEstablishIntroCell decodes a serialized ESTABLISH_INTRO cell.
// Structurally malformed input (truncated fields, lengths past the buffer)
// is rejected without constructing a partial cell. Bytes after the signature
// are cell padding and ignored.
func ParseEstablishIntroCell(buf []byte) (*EstablishIntroCell, error) {
	if len(buf) < 1+2 {
		return nil, fmt.Errorf("ESTABLISH_INTRO cell truncated: %d bytes", len(buf))
	}
	if buf[0] != AuthKeyTypeEd25519 {
		return nil, fmt.Errorf("unsupported AUTH_KEY_TYPE 0x%02x", buf[0])
	}
	keyLen := binary.BigEndian.Uint16(buf[1:3])
	if keyLen != establishIntroAuthKeyLen {
		return nil, fmt.Errorf("AUTH_KEY_LEN %d, expected %d", keyLen, establishIntroAuthKeyLen)
	}
	off := 3
	if off+establishIntroAuthKeyLen+1 > len(buf) {
		return nil, fmt.Errorf("ESTABLISH_INTRO auth key truncated")
	}

	c := &EstablishIntroCell{AuthKeyType: buf[0]}
	copy(c.AuthKey[:], buf[off:off+establishIntroAuthKeyLen])
	off += establishIntroAuthKeyLen

	nExt := int(buf[off])
	off++
	for i := 0; i < nExt; i++ {
		if off+2 > len(buf) {
			return nil, fmt.Errorf("truncated extension %d", i)
		}
		extType := buf[off]
		extLen := int(buf[off+1])
		off += 2
		if off+extLen > len(buf) {
			return nil, fmt.Errorf("extension %d data truncated", i)
		}
		data := make([]byte, extLen)
		copy(data, buf[off:off+extLen])
		off += extLen
		c.Extensions = append(c.Extensions, EstablishIntroExtension{Type: extType, Data: data})
	}

	if off+establishIntroMACLen+2+establishIntroSigLen > len(buf) {
		return nil, fmt.Errorf("ESTABLISH_INTRO MAC or signature truncated")
	}
	copy(c.HandshakeMAC[:], buf[off:off+establishIntroMACLen])
	off += establishIntroMACLen

	sigLen := binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	if sigLen != establishIntroSigLen {
		return nil, fmt.Errorf("SIG_LEN %d, expected %d", sigLen, establishIntroSigLen)
	}
	copy(c.Signature[:], buf[off:off+establishIntroSigLen])
	return c, nil
}

// Verify checks a parsed cell against the circuit key material expected for
// the circuit it arrived on: the MAC is recomputed and compared in constant
// time, then the signature is checked with the cell's own embedded auth key.
// Returns ErrHandshakeMAC or ErrCellSignature on mismatch.
func (c *EstablishIntroCell) Verify(circuitKeyMaterial []byte) error {
	prefix := c.appendPrefix(nil)
	expected := hsntor.MAC(circuitKeyMaterial, prefix)
	if !hmac.Equal(expected[:], c.HandshakeMAC[:]) {
		return ErrHandshakeMAC
	}

	signed := make([]byte, 0, len(establishIntroSigPrefix)+len(prefix)+establishIntroMACLen)
	signed = append(signed, []byte(establishIntroSigPrefix)...)
	signed = append(signed, prefix...)
	signed = append(signed, c.HandshakeMAC[:]...)
	if !ed25519.Verify(ed25519.PublicKey(c.AuthKey[:]), signed, c.Signature[:]) {
		return ErrCellSignature
	}
	return nil
}

// appendPrefix appends the signed-and-MACed cell prefix: everything from
// AUTH_KEY_TYPE through the extension records.
func (c *EstablishIntroCell) appendPrefix(b []byte) []byte {
	b = append(b, c.AuthKeyType)
	b = binary.BigEndian.AppendUint16(b, establishIntroAuthKeyLen)
	b = append(b, c.AuthKey[:]...)
	b = append(b, byte(len(c.Extensions)))
	for _, ext := range c.Extensions {
		b = append(b, ext.Type, byte(len(ext.Data)))
		b = append(b, ext.Data...)
	}
	return b
}
