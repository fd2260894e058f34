package onion

import (
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"

	"github.com/dgotrik/tor/hsntor"
)

// blindString is the constant prefix for blinding factor derivation.
var blindString = []byte("Derive temporary signing key\x00")

// ed25519Basepoint is the string representation of the Ed25519 basepoint B,
// as specified in rend-spec-v3.
var ed25519Basepoint = []byte("(15112221349535400772501151409588531511454012693041857206046113283949847762202, 46316835694926478169428394003475163141307993866256225615783033603165251855960)")

// BlindPublicKey derives the blinded public key A' = h * A for the given
// time period. The nonce N = "key-blind" | INT_8(period_number) | INT_8(period_length).
func BlindPublicKey(pubkey [32]byte, periodNumber uint64) ([32]byte, error) {
	var blinded [32]byte

	nonce := buildBlindNonce(periodNumber)

	// Blinding factor h = SHA3-256(BLIND_STRING | A | B | N).
	h := sha3.New256()
	h.Write(blindString)
	h.Write(pubkey[:])
	h.Write(ed25519Basepoint)
	h.Write(nonce)
	hBytes := h.Sum(nil)

	hScalar, err := new(edwards25519.Scalar).SetBytesWithClamping(hBytes)
	if err != nil {
		return blinded, fmt.Errorf("blinding scalar: %w", err)
	}

	A, err := new(edwards25519.Point).SetBytes(pubkey[:])
	if err != nil {
		return blinded, fmt.Errorf("identity key is not a valid point: %w", err)
	}

	Aprime := new(edwards25519.Point).ScalarMult(hScalar, A)
	copy(blinded[:], Aprime.Bytes())
	return blinded, nil
}

// Subcredential computes the per-period subcredential consumed by the
// hs-ntor handshake.
// N_hs_subcred = SHA3-256("subcredential" | N_hs_cred | blinded_public_key)
// N_hs_cred = SHA3-256("credential" | public_identity_key)
func Subcredential(pubkey [32]byte, blindedKey [32]byte) hsntor.Subcredential {
	credHash := sha3.New256()
	credHash.Write([]byte("credential"))
	credHash.Write(pubkey[:])
	credential := credHash.Sum(nil)

	subHash := sha3.New256()
	subHash.Write([]byte("subcredential"))
	subHash.Write(credential)
	subHash.Write(blindedKey[:])
	var subcred hsntor.Subcredential
	copy(subcred[:], subHash.Sum(nil))
	return subcred
}

func buildBlindNonce(periodNumber uint64) []byte {
	// N = "key-blind" | INT_8(period_number) | INT_8(period_length)
	nonce := make([]byte, 0, 9+8+8)
	nonce = append(nonce, []byte("key-blind")...)
	nonce = binary.BigEndian.AppendUint64(nonce, periodNumber)
	nonce = binary.BigEndian.AppendUint64(nonce, TimePeriodLength)
	return nonce
}
