// Package circuit models the circuit state the onion service protocol core
// operates on: an enumerated purpose, a cryptographic path of hops each
// carrying forward/backward digest and cipher state, and an identity binding
// the circuit to a specific service. The transport that carries cells over a
// circuit lives elsewhere; this package owns the per-hop crypto.
package circuit

import (
	"crypto/cipher"
	"hash"
	"sync"
)

// Purpose is the circuit's protocol state.
type Purpose uint8

const (
	PurposeNone Purpose = iota
	// PurposeServiceConnectRend: service-side circuit being opened to the
	// client's rendezvous point, awaiting rendezvous keys.
	PurposeServiceConnectRend
	// PurposeServiceRendJoined: service-side circuit with end-to-end crypto
	// installed, ready for rendezvous data.
	PurposeServiceRendJoined
	// PurposeClientEstablishRend: client-side circuit at the rendezvous
	// point, awaiting the service.
	PurposeClientEstablishRend
	// PurposeClientRendJoined: client-side counterpart of the joined state.
	PurposeClientRendJoined
)

func (p Purpose) String() string {
	switch p {
	case PurposeServiceConnectRend:
		return "service-connect-rend"
	case PurposeServiceRendJoined:
		return "service-rend-joined"
	case PurposeClientEstablishRend:
		return "client-establish-rend"
	case PurposeClientRendJoined:
		return "client-rend-joined"
	default:
		return "none"
	}
}

// DigestAlgo identifies the running digest algorithm of a hop direction.
type DigestAlgo uint8

const (
	DigestNone DigestAlgo = iota
	DigestSHA1
	DigestSHA3256
)

func (a DigestAlgo) String() string {
	switch a {
	case DigestSHA1:
		return "sha1"
	case DigestSHA3256:
		return "sha3-256"
	default:
		return "none"
	}
}

// IdentRole says which role a circuit plays for its service.
type IdentRole uint8

const (
	IdentIntro IdentRole = iota + 1
	IdentRendezvous
)

// HSIdent binds a circuit to a specific onion service identity.
type HSIdent struct {
	// ServicePK is the service's long-term ed25519 identity public key.
	ServicePK [32]byte
	Role      IdentRole
}

// Hop holds the encryption state for one circuit hop.
type Hop struct {
	kf    cipher.Stream // Forward cipher (toward the far end)
	kb    cipher.Stream // Backward cipher (from the far end)
	df    hash.Hash     // Forward running digest
	db    hash.Hash     // Backward running digest
	algof DigestAlgo
	algob DigestAlgo
}

// NewHop creates a Hop with caller-provided cipher streams and digest
// hashes. algo identifies both directions' digest algorithm.
func NewHop(kf, kb cipher.Stream, df, db hash.Hash, algo DigestAlgo) *Hop {
	return &Hop{kf: kf, kb: kb, df: df, db: db, algof: algo, algob: algo}
}

// ForwardDigestAlgo reports the forward direction's digest algorithm.
func (h *Hop) ForwardDigestAlgo() DigestAlgo { return h.algof }

// BackwardDigestAlgo reports the backward direction's digest algorithm.
func (h *Hop) BackwardDigestAlgo() DigestAlgo { return h.algob }

// ForwardCipher returns the forward cipher context, nil if none installed.
func (h *Hop) ForwardCipher() cipher.Stream { return h.kf }

// BackwardCipher returns the backward cipher context, nil if none installed.
func (h *Hop) BackwardCipher() cipher.Stream { return h.kb }

// Circuit is a circuit this core may extend by exactly one hop and whose
// purpose it may transition. The hop slice is owned by the Circuit.
type Circuit struct {
	rmu     sync.Mutex // protects reads: kb, db
	wmu     sync.Mutex // protects writes: kf, df
	ID      uint32
	Purpose Purpose
	Ident   *HSIdent
	Hops    []*Hop
}

// New creates a circuit in the given purpose with an empty cryptographic
// path.
func New(id uint32, purpose Purpose, ident *HSIdent) *Circuit {
	return &Circuit{ID: id, Purpose: purpose, Ident: ident}
}

// NumHops returns the length of the cryptographic path.
func (c *Circuit) NumHops() int {
	c.wmu.Lock()
	c.rmu.Lock()
	n := len(c.Hops)
	c.rmu.Unlock()
	c.wmu.Unlock()
	return n
}

// AddHop appends a hop to the circuit's cryptographic path.
func (c *Circuit) AddHop(hop *Hop) {
	c.wmu.Lock()
	c.rmu.Lock()
	c.Hops = append(c.Hops, hop)
	c.rmu.Unlock()
	c.wmu.Unlock()
}
