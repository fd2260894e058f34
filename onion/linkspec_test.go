package onion

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildRendLinkSpecsRoundTrip(t *testing.T) {
	identity := [20]byte{0x01, 0x02, 0x03}
	ed := [32]byte{0xAB}

	specs, err := BuildRendLinkSpecs(identity, "192.0.2.7", 9001, ed)
	if err != nil {
		t.Fatalf("BuildRendLinkSpecs: %v", err)
	}
	if specs[0] != 3 {
		t.Fatalf("NSPEC: got %d, want 3", specs[0])
	}

	ls, err := ParseLinkSpecifiers(specs)
	if err != nil {
		t.Fatalf("ParseLinkSpecifiers: %v", err)
	}
	if ls.Address != "192.0.2.7" || ls.ORPort != 9001 {
		t.Fatalf("address: got %s:%d", ls.Address, ls.ORPort)
	}
	if ls.Identity != identity {
		t.Fatalf("identity: got %x", ls.Identity)
	}
	if !ls.HasEd25519 || ls.Ed25519ID != ed {
		t.Fatalf("ed25519 identity: got %x (has=%v)", ls.Ed25519ID, ls.HasEd25519)
	}
}

func TestBuildRendLinkSpecsNoEd25519(t *testing.T) {
	specs, err := BuildRendLinkSpecs([20]byte{}, "10.1.2.3", 443, [32]byte{})
	if err != nil {
		t.Fatalf("BuildRendLinkSpecs: %v", err)
	}
	if specs[0] != 2 {
		t.Fatalf("NSPEC: got %d, want 2", specs[0])
	}
	ls, err := ParseLinkSpecifiers(specs)
	if err != nil {
		t.Fatalf("ParseLinkSpecifiers: %v", err)
	}
	if ls.HasEd25519 {
		t.Fatal("unexpected ed25519 identity")
	}
}

func TestBuildRendLinkSpecsBadAddress(t *testing.T) {
	if _, err := BuildRendLinkSpecs([20]byte{}, "not-an-ip", 443, [32]byte{}); err == nil {
		t.Fatal("expected error for invalid address")
	}
	if _, err := BuildRendLinkSpecs([20]byte{}, "2001:db8::1", 443, [32]byte{}); err == nil {
		t.Fatal("expected error for non-IPv4 address")
	}
}

func TestParseLinkSpecifiersIPv6(t *testing.T) {
	specs := []byte{1, LinkSpecIPv6, 18}
	ip := bytes.Repeat([]byte{0}, 16)
	ip[0], ip[15] = 0x20, 0x01
	specs = append(specs, ip...)
	specs = binary.BigEndian.AppendUint16(specs, 8080)

	ls, err := ParseLinkSpecifiers(specs)
	if err != nil {
		t.Fatalf("ParseLinkSpecifiers: %v", err)
	}
	if ls.ORPort != 8080 {
		t.Fatalf("port: got %d", ls.ORPort)
	}
}

func TestParseLinkSpecifiersErrors(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"truncated header", []byte{2, LinkSpecIPv4}},
		{"truncated data", []byte{1, LinkSpecIPv4, 6, 127, 0}},
		{"no address", []byte{1, LinkSpecRSAID, 20, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseLinkSpecifiers(tc.buf); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
