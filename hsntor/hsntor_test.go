package hsntor

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func keypairFromHex(t *testing.T, privHex string) *Keypair {
	t.Helper()
	var priv [32]byte
	copy(priv[:], mustDecodeHex(privHex))
	kp, err := KeypairFromPrivate(priv)
	if err != nil {
		t.Fatalf("KeypairFromPrivate: %v", err)
	}
	return kp
}

func mustGenerate(t *testing.T) *Keypair {
	t.Helper()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

func TestHsNtorSpecTestVectors(t *testing.T) {
	// Test vectors from rend-spec-v3 Appendix G.1

	authKey := mustDecodeHex("34E171E4358E501BFF21ED907E96AC6BFEF697C779D040BBAF49ACC30FC5D21F")

	service := keypairFromHex(t, "A0ED5DBF94EEB2EDB3B514E4CF6ABFF6022051CC5F103391F1970A3FCD15296A")
	client := keypairFromHex(t, "60B4D6BF5234DCF87A4E9D7487BDF3F4A69B6729835E825CA29089CFDDA1E341")
	serviceEph := keypairFromHex(t, "68CB5188CA0CD7924250404FAB54EE1392D3D2B9C049A2E446513875952F8F55")

	if !bytes.Equal(service.Public[:], mustDecodeHex("8E5127A40E83AABF6493E41F142B6EE3604B85A3961CD7E38D247239AFF71979")) {
		t.Fatalf("service public key mismatch: %x", service.Public)
	}
	if !bytes.Equal(client.Public[:], mustDecodeHex("BF04348B46D09AED726F1D66C618FDEA1DE58E8CB8B89738D7356A0C59111D5D")) {
		t.Fatalf("client public key mismatch: %x", client.Public)
	}
	if !bytes.Equal(serviceEph.Public[:], mustDecodeHex("8FBE0DB4D4A9C7FF46701E3E0EE7FD05CD28BE4F302460ADDEEC9E93354EE700")) {
		t.Fatalf("service ephemeral public key mismatch: %x", serviceEph.Public)
	}

	var subcred Subcredential
	copy(subcred[:], mustDecodeHex("0085D26A9DEBA252263BF0231AEAC59B17CA11BAD8A218238AD6487CBAD68B57"))

	expectedEncKey := mustDecodeHex("9B8917BA3D05F3130DACCE5300C3DC27F6D012912F1C733036F822D0ED238706")
	expectedMacKey := mustDecodeHex("FC4058DA59D4DF61E7B40985D122F502FD59336BC21C30CAF5E7F0D4A2C38FD5")
	expectedAuthMAC := mustDecodeHex("4A92E8437B8424D5E5EC279245D5C72B25A0327ACF6DAF902079FCB643D8B208")
	expectedKeySeed := mustDecodeHex("4D0C72FE8AFF35559D95ECC18EB5A36883402B28CDFD48C8A530A5A3D7D578DB")

	// Introduce flow, client side.
	clientIntro, err := ClientIntroduceKeys(authKey, service.Public, client, subcred)
	if err != nil {
		t.Fatalf("ClientIntroduceKeys: %v", err)
	}
	if !bytes.Equal(clientIntro.EncKey[:], expectedEncKey) {
		t.Fatalf("ENC_KEY mismatch:\n  got  %x\n  want %x", clientIntro.EncKey, expectedEncKey)
	}
	if !bytes.Equal(clientIntro.MacKey[:], expectedMacKey) {
		t.Fatalf("MAC_KEY mismatch:\n  got  %x\n  want %x", clientIntro.MacKey, expectedMacKey)
	}

	// Introduce flow, service side.
	serviceIntro, err := ServiceIntroduceKeys(authKey, service, client.Public, subcred)
	if err != nil {
		t.Fatalf("ServiceIntroduceKeys: %v", err)
	}
	if *serviceIntro != *clientIntro {
		t.Fatal("service INTRODUCE1 keys differ from client keys")
	}

	// Rendezvous flow, service side.
	serviceRend, err := ServiceRendezvousKeys(authKey, service, serviceEph, client.Public)
	if err != nil {
		t.Fatalf("ServiceRendezvousKeys: %v", err)
	}
	if !bytes.Equal(serviceRend.AuthMAC[:], expectedAuthMAC) {
		t.Fatalf("AUTH_INPUT_MAC mismatch:\n  got  %x\n  want %x", serviceRend.AuthMAC, expectedAuthMAC)
	}
	if !bytes.Equal(serviceRend.KeySeed[:], expectedKeySeed) {
		t.Fatalf("NTOR_KEY_SEED mismatch:\n  got  %x\n  want %x", serviceRend.KeySeed, expectedKeySeed)
	}

	// Rendezvous flow, client side.
	clientRend, err := ClientRendezvousKeys(authKey, client, service.Public, serviceEph.Public)
	if err != nil {
		t.Fatalf("ClientRendezvousKeys: %v", err)
	}
	if *clientRend != *serviceRend {
		t.Fatal("client RENDEZVOUS1 key material differs from service")
	}
}

func TestIntroduceKeysSymmetry(t *testing.T) {
	service := mustGenerate(t)
	client := mustGenerate(t)

	authKey := make([]byte, 32)
	authKey[0] = 0x99
	var subcred Subcredential
	subcred[0] = 'Z'

	clientKeys, err := ClientIntroduceKeys(authKey, service.Public, client, subcred)
	if err != nil {
		t.Fatalf("ClientIntroduceKeys: %v", err)
	}
	serviceKeys, err := ServiceIntroduceKeys(authKey, service, client.Public, subcred)
	if err != nil {
		t.Fatalf("ServiceIntroduceKeys: %v", err)
	}

	if *clientKeys != *serviceKeys {
		t.Fatalf("INTRODUCE1 keys differ:\n  client  %x %x\n  service %x %x",
			clientKeys.EncKey, clientKeys.MacKey, serviceKeys.EncKey, serviceKeys.MacKey)
	}
}

func TestRendezvousKeysSymmetry(t *testing.T) {
	service := mustGenerate(t)
	serviceEph := mustGenerate(t)
	client := mustGenerate(t)

	authKey := make([]byte, 32)
	authKey[0] = 0x42

	serviceKeys, err := ServiceRendezvousKeys(authKey, service, serviceEph, client.Public)
	if err != nil {
		t.Fatalf("ServiceRendezvousKeys: %v", err)
	}
	clientKeys, err := ClientRendezvousKeys(authKey, client, service.Public, serviceEph.Public)
	if err != nil {
		t.Fatalf("ClientRendezvousKeys: %v", err)
	}

	if *clientKeys != *serviceKeys {
		t.Fatalf("RENDEZVOUS1 key material differs:\n  client  %x %x\n  service %x %x",
			clientKeys.AuthMAC, clientKeys.KeySeed, serviceKeys.AuthMAC, serviceKeys.KeySeed)
	}
}

func TestClientHandshakeRoundTrip(t *testing.T) {
	service := mustGenerate(t)
	serviceEph := mustGenerate(t)

	authKey := make([]byte, 32)
	authKey[0] = 0x07
	var subcred Subcredential
	subcred[0] = 0xAA

	state, introKeys, err := NewClientHandshake(service.Public, authKey, subcred)
	if err != nil {
		t.Fatalf("NewClientHandshake: %v", err)
	}
	if introKeys.EncKey == [32]byte{} || introKeys.MacKey == [32]byte{} {
		t.Fatal("intro keys should not be zero")
	}

	// Service answers the introduction with RENDEZVOUS1 key material.
	serviceRend, err := ServiceRendezvousKeys(authKey, service, serviceEph, state.EphemeralPublic())
	if err != nil {
		t.Fatalf("ServiceRendezvousKeys: %v", err)
	}

	seed, err := state.Complete(serviceEph.Public, serviceRend.AuthMAC)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !bytes.Equal(seed, serviceRend.KeySeed[:]) {
		t.Fatal("key seeds don't match")
	}
}

func TestClientCompleteBadAuth(t *testing.T) {
	service := mustGenerate(t)

	state, _, err := NewClientHandshake(service.Public, make([]byte, 32), Subcredential{})
	if err != nil {
		t.Fatalf("NewClientHandshake: %v", err)
	}
	defer state.Close()

	var badAuth [AuthMACLen]byte
	badAuth[0] = 0xFF
	Y := mustGenerate(t).Public

	if _, err := state.Complete(Y, badAuth); err == nil {
		t.Fatal("expected AUTH verification failure")
	}
}

func TestDHRejectsLowOrderPoint(t *testing.T) {
	client := mustGenerate(t)

	// The all-zeros public key is a low-order point; every flow must reject
	// it rather than derive keys from a predictable shared secret.
	var zeroPK PublicKey
	if _, err := ClientIntroduceKeys(make([]byte, 32), zeroPK, client, Subcredential{}); err == nil {
		t.Fatal("expected error for low-order enc-key")
	}
	if _, err := ServiceIntroduceKeys(make([]byte, 32), client, zeroPK, Subcredential{}); err == nil {
		t.Fatal("expected error for low-order client key")
	}
	if _, err := ClientRendezvousKeys(make([]byte, 32), client, client.Public, zeroPK); err == nil {
		t.Fatal("expected error for low-order ephemeral key")
	}
}

func TestExpandKeys(t *testing.T) {
	seed := make([]byte, KeySeedLen)
	seed[0] = 0x42
	df, db, kf, kb := ExpandKeys(seed)

	// All should be non-zero and different.
	if df == [32]byte{} || db == [32]byte{} || kf == [32]byte{} || kb == [32]byte{} {
		t.Fatal("keys should not be zero")
	}
	if df == db || kf == kb || df == kf {
		t.Fatal("keys should be different")
	}

	// Deterministic.
	df2, db2, kf2, kb2 := ExpandKeys(seed)
	if df != df2 || db != db2 || kf != kf2 || kb != kb2 {
		t.Fatal("key expansion should be deterministic")
	}

	// Different seed, different keys.
	seed[0] = 0x43
	df3, _, _, _ := ExpandKeys(seed)
	if df3 == df {
		t.Fatal("different seeds should give different keys")
	}
}
