// Package hsntor implements the hs-ntor key exchange used between onion
// service clients and services (rend-spec-v3 Appendix G). Both sides of both
// handshake messages are implemented: the INTRODUCE1 flow derives the
// encryption and MAC keys protecting the introduction payload, and the
// RENDEZVOUS1 flow derives the authentication MAC and the NTOR_KEY_SEED
// that the rendezvous circuit keys are expanded from.
//
// The exchange is service-authenticated only: the service's static enc-key
// participates in every DH combination, so a client that knows it from the
// descriptor ends up sharing keys only with the real service. The client
// never authenticates at this layer.
package hsntor

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"
)

const (
	protoID      = "tor-hs-ntor-curve25519-sha3-256-1"
	serverString = "Server"

	// PublicKeyLen is the size of a curve25519 public key.
	PublicKeyLen = 32
	// SubcredentialLen is the size of a per-period subcredential.
	SubcredentialLen = 32
	// KeySeedLen is the size of the NTOR_KEY_SEED.
	KeySeedLen = 32
	// AuthMACLen is the size of the RENDEZVOUS1 authentication MAC.
	AuthMACLen = 32

	sKeyLen   = 32 // AES-256
	macKeyLen = 32 // SHA3-256
)

// Domain-separation tweaks. Introduce-phase and rendezvous-phase outputs can
// never collide even if an ephemeral key were erroneously reused.
var (
	tHsenc    = []byte(protoID + ":hs_key_extract")
	tHsverify = []byte(protoID + ":hs_verify")
	tHsmac    = []byte(protoID + ":hs_mac")
	mHsexpand = []byte(protoID + ":hs_key_expand")
)

// PublicKey is a curve25519 public key. Freely copyable.
type PublicKey [PublicKeyLen]byte

// Subcredential is the rotating per-period secret binding handshake keys to
// a service identity and time period. Opaque to this package.
type Subcredential [SubcredentialLen]byte

// Keypair is a curve25519 keypair. The private scalar is owned exclusively
// by the Keypair and zeroed by Close.
type Keypair struct {
	Public  PublicKey
	private [32]byte
}

// GenerateKeypair creates a fresh curve25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate curve25519 key: %w", err)
	}
	return KeypairFromPrivate(priv)
}

// KeypairFromPrivate derives the keypair for a given private scalar.
func KeypairFromPrivate(priv [32]byte) (*Keypair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("curve25519 basepoint mult: %w", err)
	}
	kp := &Keypair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Close zeroes the private scalar. Call when the keypair is no longer needed.
func (kp *Keypair) Close() {
	clear(kp.private[:])
}

// dh computes the shared secret with the peer's public key, rejecting
// all-zeros results (low-order/invalid peer points). Accepting those would
// let an attacker force a predictable shared key.
func (kp *Keypair) dh(peer PublicKey) ([]byte, error) {
	secret, err := curve25519.X25519(kp.private[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("curve25519 DH: %w", err)
	}
	if isAllZeros(secret) {
		return nil, fmt.Errorf("curve25519 DH produced all-zeros point")
	}
	return secret, nil
}

// IntroKeys holds the INTRODUCE1 payload protection keys. Client-derived and
// service-derived values are bit-identical for matching keypairs.
type IntroKeys struct {
	EncKey [sKeyLen]byte   // AES-256-CTR key for the INTRODUCE1 encrypted section
	MacKey [macKeyLen]byte // MAC key authenticating the INTRODUCE1 payload
}

// RendKeys holds the RENDEZVOUS1 key material. AuthMAC authenticates the
// RENDEZVOUS1 message to the client; KeySeed feeds circuit key expansion and
// is never transmitted, only derived independently by both sides.
type RendKeys struct {
	AuthMAC [AuthMACLen]byte
	KeySeed [KeySeedLen]byte
}

// ClientIntroduceKeys runs the client side of the introduce flow.
// authKey is the introduction point's auth key, B the service's enc-key from
// the descriptor, client the client's fresh ephemeral keypair.
func ClientIntroduceKeys(authKey []byte, B PublicKey, client *Keypair, subcred Subcredential) (*IntroKeys, error) {
	expBx, err := client.dh(B)
	if err != nil {
		return nil, fmt.Errorf("EXP(B,x): %w", err)
	}
	secret := introSecretInput(expBx, authKey, client.Public, B)
	return deriveIntroKeys(secret, subcred), nil
}

// ServiceIntroduceKeys runs the service side of the introduce flow: the
// mirror DH of ClientIntroduceKeys with the service's enc-keypair against
// the client's ephemeral public key X taken from the INTRODUCE2 payload.
func ServiceIntroduceKeys(authKey []byte, service *Keypair, X PublicKey, subcred Subcredential) (*IntroKeys, error) {
	expXb, err := service.dh(X)
	if err != nil {
		return nil, fmt.Errorf("EXP(X,b): %w", err)
	}
	secret := introSecretInput(expXb, authKey, X, service.Public)
	return deriveIntroKeys(secret, subcred), nil
}

// ServiceRendezvousKeys runs the service side of the rendezvous flow.
// service is the static enc-keypair, serviceEph a fresh rendezvous keypair
// whose public half (Y) goes into the RENDEZVOUS1 cell, X the client's
// ephemeral public key from the introduce flow.
func ServiceRendezvousKeys(authKey []byte, service, serviceEph *Keypair, X PublicKey) (*RendKeys, error) {
	expXy, err := serviceEph.dh(X)
	if err != nil {
		return nil, fmt.Errorf("EXP(X,y): %w", err)
	}
	expXb, err := service.dh(X)
	if err != nil {
		return nil, fmt.Errorf("EXP(X,b): %w", err)
	}
	secret := rendSecretInput(expXy, expXb, authKey, service.Public, X, serviceEph.Public)
	return deriveRendKeys(secret, authKey, service.Public, serviceEph.Public, X), nil
}

// ClientRendezvousKeys runs the client side of the rendezvous flow upon
// receiving Y in the RENDEZVOUS2 body, mirroring ServiceRendezvousKeys.
func ClientRendezvousKeys(authKey []byte, client *Keypair, B, Y PublicKey) (*RendKeys, error) {
	expYx, err := client.dh(Y)
	if err != nil {
		return nil, fmt.Errorf("EXP(Y,x): %w", err)
	}
	expBx, err := client.dh(B)
	if err != nil {
		return nil, fmt.Errorf("EXP(B,x): %w", err)
	}
	secret := rendSecretInput(expYx, expBx, authKey, B, client.Public, Y)
	return deriveRendKeys(secret, authKey, B, Y, client.Public), nil
}

// ExpandKeys derives the rendezvous circuit crypto state from NTOR_KEY_SEED.
// K = KDF(NTOR_KEY_SEED | m_hsexpand, SHA3_256_LEN*2 + S_KEY_LEN*2)
// Returns Df(32), Db(32), Kf(32), Kb(32).
func ExpandKeys(ntorKeySeed []byte) (df, db, kf, kb [32]byte) {
	kdfInput := make([]byte, 0, len(ntorKeySeed)+len(mHsexpand))
	kdfInput = append(kdfInput, ntorKeySeed...)
	kdfInput = append(kdfInput, mHsexpand...)

	keys := make([]byte, 32+32+sKeyLen+sKeyLen)
	shake := sha3.NewShake256()
	shake.Write(kdfInput)
	_, _ = shake.Read(keys)

	copy(df[:], keys[0:32])
	copy(db[:], keys[32:64])
	copy(kf[:], keys[64:96])
	copy(kb[:], keys[96:128])
	clear(keys)
	return
}

// MAC computes the protocol MAC construction
// SHA3-256(INT_8(len(key)) | key | message), shared with the cell codecs.
func MAC(key, message []byte) [32]byte {
	h := sha3.New256()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(key)))
	h.Write(lenBuf[:])
	h.Write(key)
	h.Write(message)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// introSecretInput constructs intro_secret_hs_input =
// EXP | AUTH_KEY | X | B | PROTOID
func introSecretInput(exp, authKey []byte, X, B PublicKey) []byte {
	result := make([]byte, 0, len(exp)+len(authKey)+64+len(protoID))
	result = append(result, exp...)
	result = append(result, authKey...)
	result = append(result, X[:]...)
	result = append(result, B[:]...)
	result = append(result, []byte(protoID)...)
	return result
}

// deriveIntroKeys slices the INTRODUCE1 keys out of
// SHAKE256(intro_secret_hs_input | t_hsenc | m_hsexpand | subcredential).
func deriveIntroKeys(secret []byte, subcred Subcredential) *IntroKeys {
	info := make([]byte, 0, len(mHsexpand)+len(subcred))
	info = append(info, mHsexpand...)
	info = append(info, subcred[:]...)

	kdfInput := make([]byte, 0, len(secret)+len(tHsenc)+len(info))
	kdfInput = append(kdfInput, secret...)
	kdfInput = append(kdfInput, tHsenc...)
	kdfInput = append(kdfInput, info...)

	keys := make([]byte, sKeyLen+macKeyLen)
	shake := sha3.NewShake256()
	shake.Write(kdfInput)
	_, _ = shake.Read(keys)

	ik := &IntroKeys{}
	copy(ik.EncKey[:], keys[:sKeyLen])
	copy(ik.MacKey[:], keys[sKeyLen:])
	clear(keys)
	clear(secret)
	return ik
}

// rendSecretInput constructs rend_secret_hs_input =
// EXP1 | EXP2 | AUTH_KEY | B | X | Y | PROTOID
func rendSecretInput(exp1, exp2, authKey []byte, B, X, Y PublicKey) []byte {
	result := make([]byte, 0, len(exp1)+len(exp2)+len(authKey)+96+len(protoID))
	result = append(result, exp1...)
	result = append(result, exp2...)
	result = append(result, authKey...)
	result = append(result, B[:]...)
	result = append(result, X[:]...)
	result = append(result, Y[:]...)
	result = append(result, []byte(protoID)...)
	return result
}

// deriveRendKeys computes
// NTOR_KEY_SEED = MAC(rend_secret_hs_input, t_hsenc)
// verify        = MAC(rend_secret_hs_input, t_hsverify)
// AUTH_INPUT_MAC = MAC(verify | AUTH_KEY | B | Y | X | PROTOID | "Server", t_hsmac)
func deriveRendKeys(secret, authKey []byte, B, Y, X PublicKey) *RendKeys {
	rk := &RendKeys{}
	rk.KeySeed = MAC(secret, tHsenc)
	verify := MAC(secret, tHsverify)

	authInput := make([]byte, 0, len(verify)+len(authKey)+96+len(protoID)+len(serverString))
	authInput = append(authInput, verify[:]...)
	authInput = append(authInput, authKey...)
	authInput = append(authInput, B[:]...)
	authInput = append(authInput, Y[:]...)
	authInput = append(authInput, X[:]...)
	authInput = append(authInput, []byte(protoID)...)
	authInput = append(authInput, []byte(serverString)...)

	rk.AuthMAC = MAC(authInput, tHsmac)
	clear(secret)
	clear(verify[:])
	return rk
}

// VerifyAuthMAC compares a received RENDEZVOUS1 AUTH value against the
// locally derived one in constant time.
func VerifyAuthMAC(derived *RendKeys, received [AuthMACLen]byte) bool {
	return hmac.Equal(derived.AuthMAC[:], received[:])
}

// isAllZeros checks if a byte slice is all zeros without early exit.
func isAllZeros(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
