package onion

import (
	"crypto/rand"
	"fmt"

	"github.com/dgotrik/tor/hsntor"
)

// BuildRendezvous1 builds the RENDEZVOUS1 relay cell body on the service
// side: RENDEZVOUS_COOKIE(20) | Y(32) | AUTH(32). A fresh ephemeral
// rendezvous keypair is generated per call and its private half discarded
// after the key material is derived. The returned key seed feeds
// circuit.SetupEndToEndRend and must never be transmitted.
func BuildRendezvous1(authKey []byte, service *hsntor.Keypair, clientPK hsntor.PublicKey,
	rendCookie [rendCookieLen]byte) (payload []byte, keySeed []byte, err error) {

	eph, err := hsntor.GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}
	defer eph.Close()

	rk, err := hsntor.ServiceRendezvousKeys(authKey, service, eph, clientPK)
	if err != nil {
		return nil, nil, fmt.Errorf("hs-ntor rendezvous keys: %w", err)
	}

	payload = make([]byte, 0, rendCookieLen+hsntor.PublicKeyLen+hsntor.AuthMACLen)
	payload = append(payload, rendCookie[:]...)
	payload = append(payload, eph.Public[:]...)
	payload = append(payload, rk.AuthMAC[:]...)

	keySeed = make([]byte, hsntor.KeySeedLen)
	copy(keySeed, rk.KeySeed[:])
	return payload, keySeed, nil
}

// CompleteRendezvous2 processes the RENDEZVOUS2 body on the client side.
// The body contains SERVER_PK(32) | AUTH(32); the rendezvous point strips
// the cookie before relaying. Returns the key seed for circuit setup.
func CompleteRendezvous2(state *hsntor.ClientState, body []byte) ([]byte, error) {
	if len(body) < hsntor.PublicKeyLen+hsntor.AuthMACLen {
		return nil, fmt.Errorf("RENDEZVOUS2 body too short: %d bytes", len(body))
	}

	var Y hsntor.PublicKey
	copy(Y[:], body[:hsntor.PublicKeyLen])
	var auth [hsntor.AuthMACLen]byte
	copy(auth[:], body[hsntor.PublicKeyLen:hsntor.PublicKeyLen+hsntor.AuthMACLen])

	seed, err := state.Complete(Y, auth)
	if err != nil {
		return nil, fmt.Errorf("hs-ntor complete: %w", err)
	}
	return seed, nil
}

// GenerateRendezvousCookie generates a random 20-byte rendezvous cookie.
func GenerateRendezvousCookie() ([rendCookieLen]byte, error) {
	var cookie [rendCookieLen]byte
	if _, err := rand.Read(cookie[:]); err != nil {
		return cookie, fmt.Errorf("generate rendezvous cookie: %w", err)
	}
	return cookie, nil
}
