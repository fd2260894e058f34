package hsntor

import "fmt"

// ClientState holds the client's ephemeral state between sending an
// INTRODUCE1 and receiving the matching RENDEZVOUS2.
type ClientState struct {
	kp      *Keypair
	B       PublicKey
	authKey []byte
	subcred Subcredential
}

// NewClientHandshake starts the client side of an hs-ntor handshake with a
// fresh ephemeral keypair and derives the INTRODUCE1 payload keys.
// B is the service's enc-key and authKey the introduction point's auth key,
// both taken from the service descriptor.
func NewClientHandshake(B PublicKey, authKey []byte, subcred Subcredential) (*ClientState, *IntroKeys, error) {
	kp, err := GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}
	keys, err := ClientIntroduceKeys(authKey, B, kp, subcred)
	if err != nil {
		kp.Close()
		return nil, nil, err
	}
	state := &ClientState{
		kp:      kp,
		B:       B,
		authKey: authKey,
		subcred: subcred,
	}
	return state, keys, nil
}

// EphemeralPublic returns the client's ephemeral public key X, which is sent
// in the clear inside the INTRODUCE1 payload.
func (s *ClientState) EphemeralPublic() PublicKey {
	return s.kp.Public
}

// Complete finishes the handshake with the service's ephemeral key Y and the
// AUTH value from the RENDEZVOUS2 body. On success it returns the
// NTOR_KEY_SEED and zeroes the ephemeral private key.
func (s *ClientState) Complete(Y PublicKey, auth [AuthMACLen]byte) ([]byte, error) {
	rk, err := ClientRendezvousKeys(s.authKey, s.kp, s.B, Y)
	if err != nil {
		return nil, err
	}
	if !VerifyAuthMAC(rk, auth) {
		return nil, fmt.Errorf("hs-ntor AUTH verification failed")
	}
	s.kp.Close()
	return rk.KeySeed[:], nil
}

// Close zeroes the ephemeral private key. Call on error paths when Complete
// won't be reached.
func (s *ClientState) Close() {
	s.kp.Close()
}
