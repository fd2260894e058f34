package cell

import "encoding/binary"

// Command constants
const (
	CmdPadding    uint8 = 0
	CmdRelay      uint8 = 3
	CmdDestroy    uint8 = 4
	CmdRelayEarly uint8 = 9
)

const (
	MaxPayloadLen = 509
	FixedCellLen  = 514 // 4 (circID) + 1 (cmd) + 509 (payload)
)

// Relay cell command constants (tor-spec §6.1, rend-spec-v3 §3).
const (
	RelayBegin                 uint8 = 1
	RelayData                  uint8 = 2
	RelayEnd                   uint8 = 3
	RelaySendMe                uint8 = 5
	RelayEstablishIntro        uint8 = 32
	RelayEstablishRendezvous   uint8 = 33
	RelayIntroduce1            uint8 = 34
	RelayIntroduce2            uint8 = 35
	RelayRendezvous1           uint8 = 36
	RelayRendezvous2           uint8 = 37
	RelayIntroEstablished      uint8 = 38
	RelayRendezvousEstablished uint8 = 39
	RelayIntroduceAck          uint8 = 40
)

// Relay header offsets within the 509-byte payload.
const (
	RelayCommandOff    = 0  // 1 byte
	RelayRecognizedOff = 1  // 2 bytes
	RelayStreamIDOff   = 3  // 2 bytes
	RelayDigestOff     = 5  // 4 bytes
	RelayLengthOff     = 9  // 2 bytes
	RelayDataOff       = 11 // up to 498 bytes
)

// MaxRelayDataLen is the maximum data in a single relay cell. This is the
// RELAY_PAYLOAD_SIZE bound on every relay cell body, including
// ESTABLISH_INTRO, INTRODUCE1/2 and RENDEZVOUS1/2.
const MaxRelayDataLen = MaxPayloadLen - RelayDataOff // 498

// Cell is a Tor cell backed by a byte slice.
type Cell []byte

// NewFixedCell creates a 514-byte fixed-length cell.
func NewFixedCell(circID uint32, cmd uint8) Cell {
	c := make(Cell, FixedCellLen)
	binary.BigEndian.PutUint32(c[0:4], circID)
	c[4] = cmd
	return c
}

func (c Cell) CircID() uint32 {
	return binary.BigEndian.Uint32(c[0:4])
}

func (c Cell) Command() uint8 {
	return c[4]
}

func (c Cell) Payload() []byte {
	return c[5:]
}
