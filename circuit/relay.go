package circuit

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/dgotrik/tor/cell"
)

// EncryptRelay builds and encrypts a relay cell payload for sending through
// the circuit. On a joined rendezvous circuit this applies the end-to-end
// hop's SHA3-256 digest and AES-256-CTR stream installed by
// SetupEndToEndRend.
func (c *Circuit) EncryptRelay(relayCmd uint8, streamID uint16, data []byte) (cell.Cell, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if len(c.Hops) == 0 {
		return nil, fmt.Errorf("circuit has no hops")
	}
	if len(data) > cell.MaxRelayDataLen {
		return nil, fmt.Errorf("relay data too large: %d > %d", len(data), cell.MaxRelayDataLen)
	}

	// Build relay payload (509 bytes)
	var payload [cell.MaxPayloadLen]byte
	payload[cell.RelayCommandOff] = relayCmd
	// recognized = 0 (already zero)
	binary.BigEndian.PutUint16(payload[cell.RelayStreamIDOff:], streamID)
	// digest = 0 for now (computed below)
	binary.BigEndian.PutUint16(payload[cell.RelayLengthOff:], uint16(len(data)))
	copy(payload[cell.RelayDataOff:], data)

	// Per tor-spec §6.1: padding = 4 zero bytes + random bytes
	padStart := cell.RelayDataOff + len(data)
	if padStart+4 < cell.MaxPayloadLen {
		_, _ = rand.Read(payload[padStart+4:])
	}

	// Compute digest: hash the payload with digest field zeroed, take first
	// 4 bytes of the running digest state.
	hop := c.Hops[len(c.Hops)-1]
	hop.df.Write(payload[:])
	digest := hop.df.Sum(nil)
	copy(payload[cell.RelayDigestOff:cell.RelayDigestOff+4], digest[:4])

	// Encrypt: from last hop to first (onion layering)
	encrypted := payload[:]
	for i := len(c.Hops) - 1; i >= 0; i-- {
		c.Hops[i].kf.XORKeyStream(encrypted, encrypted)
	}

	relayCell := cell.NewFixedCell(c.ID, cell.CmdRelay)
	copy(relayCell.Payload(), encrypted)
	return relayCell, nil
}

// DecryptRelay decrypts an incoming relay cell payload, identifying the hop
// it originated from via the recognized field and running digest.
func (c *Circuit) DecryptRelay(incoming cell.Cell) (hopIdx int, relayCmd uint8, streamID uint16, data []byte, err error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if len(c.Hops) == 0 {
		return 0, 0, 0, nil, fmt.Errorf("circuit has no hops")
	}

	payload := make([]byte, cell.MaxPayloadLen)
	copy(payload, incoming.Payload()[:cell.MaxPayloadLen])

	for i, hop := range c.Hops {
		// Decrypt this layer
		hop.kb.XORKeyStream(payload, payload)

		// Check recognized field
		recognized := binary.BigEndian.Uint16(payload[cell.RelayRecognizedOff:])
		if recognized != 0 {
			continue // Not recognized at this hop, try next layer
		}

		// Extract and verify digest
		var savedDigest [4]byte
		copy(savedDigest[:], payload[cell.RelayDigestOff:cell.RelayDigestOff+4])

		// Zero the digest field for hash computation
		payload[cell.RelayDigestOff] = 0
		payload[cell.RelayDigestOff+1] = 0
		payload[cell.RelayDigestOff+2] = 0
		payload[cell.RelayDigestOff+3] = 0

		// Snapshot Db state before writing, in case recognized==0 is coincidental
		dbState, err := hop.db.(encoding.BinaryMarshaler).MarshalBinary()
		if err != nil {
			return 0, 0, 0, nil, fmt.Errorf("snapshot digest state: %w", err)
		}

		// Compute expected digest using running Db hash
		hop.db.Write(payload)
		computedDigest := hop.db.Sum(nil)

		if subtle.ConstantTimeCompare(savedDigest[:], computedDigest[:4]) == 1 {
			// Match — extract data
			relayCmd = payload[cell.RelayCommandOff]
			streamID = binary.BigEndian.Uint16(payload[cell.RelayStreamIDOff:])
			dataLen := binary.BigEndian.Uint16(payload[cell.RelayLengthOff:])
			if int(dataLen) > cell.MaxRelayDataLen {
				return 0, 0, 0, nil, fmt.Errorf("relay data length %d exceeds maximum %d", dataLen, cell.MaxRelayDataLen)
			}
			data = make([]byte, dataLen)
			copy(data, payload[cell.RelayDataOff:cell.RelayDataOff+int(dataLen)])
			return i, relayCmd, streamID, data, nil
		}

		// False recognized==0 — restore Db state and continue
		if err := hop.db.(encoding.BinaryUnmarshaler).UnmarshalBinary(dbState); err != nil {
			return 0, 0, 0, nil, fmt.Errorf("restore digest state: %w", err)
		}
	}

	return 0, 0, 0, nil, fmt.Errorf("relay cell not recognized at any hop")
}
