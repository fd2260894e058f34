package onion

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Link specifier type constants (tor-spec §5.1.2).
const (
	LinkSpecIPv4    = 0x00 // 6 bytes: 4 IP + 2 port
	LinkSpecIPv6    = 0x01 // 18 bytes: 16 IP + 2 port
	LinkSpecRSAID   = 0x02 // 20 bytes: RSA identity fingerprint
	LinkSpecEd25519 = 0x03 // 32 bytes: Ed25519 identity
)

// ParsedLinkSpecs holds the extracted fields from link specifiers.
type ParsedLinkSpecs struct {
	Address    string // IPv4 or IPv6 address
	ORPort     uint16
	Identity   [20]byte // RSA identity (SHA-1 fingerprint)
	Ed25519ID  [32]byte
	HasEd25519 bool
}

// ParseLinkSpecifiers parses an NSPEC-prefixed link specifier block (as
// carried in an INTRODUCE body) into structured fields.
func ParseLinkSpecifiers(data []byte) (*ParsedLinkSpecs, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("link specifiers too short")
	}
	nspec := int(data[0])
	result := &ParsedLinkSpecs{}
	off := 1
	for i := 0; i < nspec; i++ {
		if off+2 > len(data) {
			return nil, fmt.Errorf("truncated link specifier %d", i)
		}
		lstype := data[off]
		lslen := int(data[off+1])
		off += 2
		if off+lslen > len(data) {
			return nil, fmt.Errorf("link specifier %d data truncated", i)
		}
		lsdata := data[off : off+lslen]
		off += lslen

		switch lstype {
		case LinkSpecIPv4:
			if lslen != 6 {
				continue
			}
			result.Address = net.IP(lsdata[:4]).String()
			result.ORPort = binary.BigEndian.Uint16(lsdata[4:6])
		case LinkSpecIPv6:
			if lslen != 18 {
				continue
			}
			result.Address = net.IP(lsdata[:16]).String()
			result.ORPort = binary.BigEndian.Uint16(lsdata[16:18])
		case LinkSpecRSAID:
			if lslen != 20 {
				continue
			}
			copy(result.Identity[:], lsdata)
		case LinkSpecEd25519:
			if lslen != 32 {
				continue
			}
			copy(result.Ed25519ID[:], lsdata)
			result.HasEd25519 = true
		}
	}
	if result.Address == "" {
		return nil, fmt.Errorf("no IPv4 or IPv6 link specifier found")
	}
	return result, nil
}

// linkSpecifiersLen walks an NSPEC-prefixed block and returns its encoded
// length, so a parser can split it from trailing padding.
func linkSpecifiersLen(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("link specifiers too short")
	}
	nspec := int(data[0])
	off := 1
	for i := 0; i < nspec; i++ {
		if off+2 > len(data) {
			return 0, fmt.Errorf("truncated link specifier %d", i)
		}
		lslen := int(data[off+1])
		off += 2
		if off+lslen > len(data) {
			return 0, fmt.Errorf("link specifier %d data truncated", i)
		}
		off += lslen
	}
	return off, nil
}

// BuildRendLinkSpecs encodes link specifiers for a rendezvous point in the
// format expected by the INTRODUCE plaintext: NSPEC | (LSTYPE | LSLEN | LSPEC)...
func BuildRendLinkSpecs(identity [20]byte, address string, orPort uint16, ed25519ID [32]byte) ([]byte, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", address)
	}
	ipv4 := ip.To4()
	if ipv4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %s", address)
	}
	var ipBytes [4]byte
	copy(ipBytes[:], ipv4)

	specs := make([]byte, 0, 128)

	// TLS-over-TCP IPv4, legacy identity, optionally Ed25519 identity.
	nspec := byte(3)
	if ed25519ID == [32]byte{} {
		nspec = 2
	}
	specs = append(specs, nspec)

	specs = append(specs, LinkSpecIPv4, 0x06)
	specs = append(specs, ipBytes[:]...)
	specs = binary.BigEndian.AppendUint16(specs, orPort)

	specs = append(specs, LinkSpecRSAID, 0x14)
	specs = append(specs, identity[:]...)

	if ed25519ID != [32]byte{} {
		specs = append(specs, LinkSpecEd25519, 0x20)
		specs = append(specs, ed25519ID[:]...)
	}

	return specs, nil
}
