package circuit

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/sha3"

	"github.com/dgotrik/tor/hsntor"
)

// SetupEndToEndRend consumes the NTOR_KEY_SEED negotiated by the hs-ntor
// rendezvous flow and finalizes the circuit: it derives the forward and
// backward digest/cipher state, appends the single end-to-end hop to the
// cryptographic path, and transitions the circuit into the joined purpose
// for the given side. The digests are SHA3-256, never the legacy SHA-1 used
// on regular hops.
//
// The path must be empty and the purpose must be the awaiting-rendezvous
// state for the chosen side; violating either is a caller bug reported as an
// error, so a second call on a joined circuit cannot silently succeed.
func (c *Circuit) SetupEndToEndRend(ntorKeySeed []byte, serviceSide bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(ntorKeySeed) < hsntor.KeySeedLen {
		return fmt.Errorf("ntor key seed too short: %d bytes, need %d", len(ntorKeySeed), hsntor.KeySeedLen)
	}

	wantPurpose := PurposeClientEstablishRend
	joinedPurpose := PurposeClientRendJoined
	if serviceSide {
		wantPurpose = PurposeServiceConnectRend
		joinedPurpose = PurposeServiceRendJoined
	}

	c.wmu.Lock()
	c.rmu.Lock()
	defer c.rmu.Unlock()
	defer c.wmu.Unlock()

	if n := len(c.Hops); n != 0 {
		return fmt.Errorf("rendezvous circuit already has %d hops", n)
	}
	if c.Purpose != wantPurpose {
		return fmt.Errorf("circuit purpose %s, expected %s", c.Purpose, wantPurpose)
	}

	df, db, kf, kb := hsntor.ExpandKeys(ntorKeySeed)
	// The key material is laid out from the client's point of view; on the
	// service side forward and backward swap.
	if serviceSide {
		df, db = db, df
		kf, kb = kb, kf
	}

	hop, err := newRendHop(df, db, kf, kb)
	clear(kf[:])
	clear(kb[:])
	clear(df[:])
	clear(db[:])
	if err != nil {
		return fmt.Errorf("init rendezvous hop: %w", err)
	}

	c.Hops = append(c.Hops, hop)
	c.Purpose = joinedPurpose

	logger.Debug("rendezvous circuit joined",
		"circID", fmt.Sprintf("0x%08x", c.ID), "purpose", c.Purpose.String())
	return nil
}

// newRendHop builds the end-to-end hop: AES-256-CTR ciphers with zero IV and
// SHA3-256 running digests seeded with Df/Db.
func newRendHop(df, db, kf, kb [32]byte) (*Hop, error) {
	zeroIV := make([]byte, aes.BlockSize)

	fwdBlock, err := aes.NewCipher(kf[:])
	if err != nil {
		return nil, fmt.Errorf("AES-CTR forward: %w", err)
	}
	bwdBlock, err := aes.NewCipher(kb[:])
	if err != nil {
		return nil, fmt.Errorf("AES-CTR backward: %w", err)
	}

	hDf := sha3.New256()
	hDf.Write(df[:])
	hDb := sha3.New256()
	hDb.Write(db[:])

	return NewHop(
		cipher.NewCTR(fwdBlock, zeroIV),
		cipher.NewCTR(bwdBlock, zeroIV),
		hDf, hDb,
		DigestSHA3256,
	), nil
}
