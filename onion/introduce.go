package onion

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgotrik/tor/hsntor"
)

const (
	legacyKeyIDLen   = 20
	rendCookieLen    = 20
	onionKeyTypeNtor = 0x01
	introduceMACLen  = 32
	// Current C-tor pads the INTRODUCE1 plaintext to this size.
	introducePlaintextPadLen = 246
)

// ErrIntroduceMAC reports an INTRODUCE2 payload whose MAC does not match the
// keys derived for this service; the cell is forged or misdirected.
var ErrIntroduceMAC = errors.New("INTRODUCE2 MAC mismatch")

// Introduce2 holds the fields a service extracts from a valid INTRODUCE2
// payload: everything it needs to build the rendezvous circuit and answer
// with a RENDEZVOUS1.
type Introduce2 struct {
	// ClientPK is the client's ephemeral handshake key X.
	ClientPK hsntor.PublicKey
	// RendCookie is echoed to the rendezvous point in RENDEZVOUS1.
	RendCookie [rendCookieLen]byte
	// RendOnionKey is the rendezvous point's ntor onion key.
	RendOnionKey [32]byte
	// LinkSpecifiers is the raw rendezvous point link specifier block.
	LinkSpecifiers []byte
	// Keys is the derived INTRODUCE1 key material.
	Keys *hsntor.IntroKeys
}

// BuildIntroduce1 builds the INTRODUCE1 relay cell payload on the client
// side and returns it with the handshake state needed to complete the
// exchange when RENDEZVOUS2 arrives.
//
// authKey is the introduction point's auth key, encKey the service's
// enc-key ntor from the descriptor, rendLinkSpecs the rendezvous point's
// link specifiers in NSPEC-prefixed form (see BuildRendLinkSpecs).
func BuildIntroduce1(authKey []byte, encKey hsntor.PublicKey, subcred hsntor.Subcredential,
	rendCookie [rendCookieLen]byte, rendOnionKey [32]byte, rendLinkSpecs []byte) ([]byte, *hsntor.ClientState, error) {

	state, keys, err := hsntor.NewClientHandshake(encKey, authKey, subcred)
	if err != nil {
		return nil, nil, fmt.Errorf("hs-ntor handshake: %w", err)
	}

	// Plaintext body: RENDEZVOUS_COOKIE(20) | N_EXTENSIONS(1) |
	// ONION_KEY_TYPE(1) | ONION_KEY_LEN(2) | ONION_KEY(32) | link specifiers
	plaintext := make([]byte, 0, introducePlaintextPadLen)
	plaintext = append(plaintext, rendCookie[:]...)
	plaintext = append(plaintext, 0x00) // N_EXTENSIONS = 0
	plaintext = append(plaintext, onionKeyTypeNtor)
	plaintext = binary.BigEndian.AppendUint16(plaintext, 32)
	plaintext = append(plaintext, rendOnionKey[:]...)
	plaintext = append(plaintext, rendLinkSpecs...)
	if len(plaintext) < introducePlaintextPadLen {
		plaintext = append(plaintext, make([]byte, introducePlaintextPadLen-len(plaintext))...)
	}

	encrypted := make([]byte, len(plaintext))
	introStream(keys.EncKey).XORKeyStream(encrypted, plaintext)

	X := state.EphemeralPublic()

	// Header: LEGACY_KEY_ID(20 zeros) | AUTH_KEY_TYPE(1) | AUTH_KEY_LEN(2) |
	// AUTH_KEY | N_EXTENSIONS(1)
	header := make([]byte, 0, legacyKeyIDLen+1+2+len(authKey)+1)
	header = append(header, make([]byte, legacyKeyIDLen)...)
	header = append(header, AuthKeyTypeEd25519)
	header = binary.BigEndian.AppendUint16(header, uint16(len(authKey)))
	header = append(header, authKey...)
	header = append(header, 0x00) // N_EXTENSIONS = 0

	// MAC(MAC_KEY, header | X | encrypted)
	macInput := make([]byte, 0, len(header)+len(X)+len(encrypted))
	macInput = append(macInput, header...)
	macInput = append(macInput, X[:]...)
	macInput = append(macInput, encrypted...)
	mac := hsntor.MAC(keys.MacKey[:], macInput)

	payload := make([]byte, 0, len(macInput)+introduceMACLen)
	payload = append(payload, macInput...)
	payload = append(payload, mac[:]...)
	return payload, state, nil
}

// ProcessIntroduce2 handles a relayed introduction on the service side:
// it parses the payload, derives the service's INTRODUCE1 keys, checks the
// MAC in constant time, decrypts the body and extracts the rendezvous
// parameters. No partial result is produced on any failure.
func ProcessIntroduce2(service *hsntor.Keypair, authKey []byte, subcred hsntor.Subcredential, payload []byte) (*Introduce2, error) {
	off := 0
	if len(payload) < legacyKeyIDLen+1+2 {
		return nil, fmt.Errorf("INTRODUCE2 payload truncated: %d bytes", len(payload))
	}
	if !isZeroBytes(payload[:legacyKeyIDLen]) {
		return nil, fmt.Errorf("INTRODUCE2 legacy key ID not empty: not a v3 introduction")
	}
	off = legacyKeyIDLen

	if payload[off] != AuthKeyTypeEd25519 {
		return nil, fmt.Errorf("unsupported INTRODUCE2 AUTH_KEY_TYPE 0x%02x", payload[off])
	}
	off++
	authKeyLen := int(binary.BigEndian.Uint16(payload[off : off+2]))
	off += 2
	if off+authKeyLen > len(payload) {
		return nil, fmt.Errorf("INTRODUCE2 auth key truncated")
	}
	if !bytes.Equal(payload[off:off+authKeyLen], authKey) {
		return nil, fmt.Errorf("INTRODUCE2 auth key does not match this introduction point")
	}
	off += authKeyLen

	off, err := skipExtensions(payload, off)
	if err != nil {
		return nil, fmt.Errorf("INTRODUCE2 extensions: %w", err)
	}

	if off+hsntor.PublicKeyLen+1+introduceMACLen > len(payload) {
		return nil, fmt.Errorf("INTRODUCE2 handshake section truncated")
	}
	var clientPK hsntor.PublicKey
	copy(clientPK[:], payload[off:off+hsntor.PublicKeyLen])
	off += hsntor.PublicKeyLen

	encrypted := payload[off : len(payload)-introduceMACLen]
	mac := payload[len(payload)-introduceMACLen:]

	keys, err := hsntor.ServiceIntroduceKeys(authKey, service, clientPK, subcred)
	if err != nil {
		return nil, fmt.Errorf("derive INTRODUCE2 keys: %w", err)
	}

	expected := hsntor.MAC(keys.MacKey[:], payload[:len(payload)-introduceMACLen])
	if !hmac.Equal(expected[:], mac) {
		return nil, ErrIntroduceMAC
	}

	plaintext := make([]byte, len(encrypted))
	introStream(keys.EncKey).XORKeyStream(plaintext, encrypted)

	intro := &Introduce2{ClientPK: clientPK, Keys: keys}
	if err := parseIntroduceBody(plaintext, intro); err != nil {
		return nil, fmt.Errorf("INTRODUCE2 body: %w", err)
	}
	return intro, nil
}

// parseIntroduceBody decodes the decrypted INTRODUCE plaintext into intro.
// Trailing bytes beyond the link specifiers are padding.
func parseIntroduceBody(body []byte, intro *Introduce2) error {
	if len(body) < rendCookieLen+1 {
		return fmt.Errorf("truncated: %d bytes", len(body))
	}
	copy(intro.RendCookie[:], body[:rendCookieLen])

	off, err := skipExtensions(body, rendCookieLen)
	if err != nil {
		return err
	}

	if off+1+2 > len(body) {
		return fmt.Errorf("onion key header truncated")
	}
	if body[off] != onionKeyTypeNtor {
		return fmt.Errorf("unsupported ONION_KEY_TYPE 0x%02x", body[off])
	}
	off++
	onionKeyLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if onionKeyLen != 32 {
		return fmt.Errorf("ONION_KEY_LEN %d, expected 32", onionKeyLen)
	}
	if off+onionKeyLen > len(body) {
		return fmt.Errorf("onion key truncated")
	}
	copy(intro.RendOnionKey[:], body[off:off+onionKeyLen])
	off += onionKeyLen

	specLen, err := linkSpecifiersLen(body[off:])
	if err != nil {
		return fmt.Errorf("link specifiers: %w", err)
	}
	intro.LinkSpecifiers = make([]byte, specLen)
	copy(intro.LinkSpecifiers, body[off:off+specLen])
	return nil
}

// skipExtensions advances past an N_EXTENSIONS-prefixed TLV block.
func skipExtensions(buf []byte, off int) (int, error) {
	if off >= len(buf) {
		return 0, fmt.Errorf("extension count truncated")
	}
	nExt := int(buf[off])
	off++
	for i := 0; i < nExt; i++ {
		if off+2 > len(buf) {
			return 0, fmt.Errorf("truncated extension %d", i)
		}
		extLen := int(buf[off+1])
		off += 2
		if off+extLen > len(buf) {
			return 0, fmt.Errorf("extension %d data truncated", i)
		}
		off += extLen
	}
	return off, nil
}

// introStream builds the AES-256-CTR stream (zero IV) protecting the
// INTRODUCE encrypted section.
func introStream(key [32]byte) cipher.Stream {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		// Key length is fixed at 32 bytes; NewCipher cannot fail.
		panic(err)
	}
	return cipher.NewCTR(block, make([]byte, aes.BlockSize))
}

func isZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
