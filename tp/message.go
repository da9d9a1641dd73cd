package tp

import (
	"encoding/hex"
	"fmt"
)

// Well-known J1939 addresses.
const (
	AddressGlobal uint8 = 0xFF // destination "all nodes"
	AddressNull   uint8 = 0xFE // the null address, never a valid source
)

// Parameter group numbers used by the transport protocol itself.
const (
	PGNConnectionManagement uint32 = 0x00EC00 // TP.CM
	PGNDataTransfer         uint32 = 0x00EB00 // TP.DT
)

// CanFrame is a classic CAN data frame with a 29-bit identifier as it crosses
// the driver boundary. Data carries at most 8 bytes.
type CanFrame struct {
	ID   uint32
	Data []byte
}

func (f CanFrame) String() string {
	return fmt.Sprintf("<CanFrame %08x [%d] \"%s\">", f.ID, len(f.Data), hex.EncodeToString(f.Data))
}

// Header is the decoded form of a 29-bit J1939 identifier.
type Header struct {
	Priority    uint8
	PGN         uint32
	Source      uint8
	Destination uint8
}

// ID packs the header back into a 29-bit identifier. For PDU1 groups
// (PF < 240) the destination rides in the PS field; PDU2 groups keep their
// group extension and are implicitly global.
func (h Header) ID() uint32 {
	canID := uint32(h.Source)
	pf := uint8(h.PGN >> 8)
	if pf < 240 {
		canID |= uint32(h.Destination) << 8
	}
	canID |= h.PGN << 8
	canID |= uint32(h.Priority&0x7) << 26
	return canID
}

// ParseID splits a 29-bit identifier into its J1939 header fields.
func ParseID(canID uint32) Header {
	h := Header{
		Priority: uint8(canID>>26) & 0x7,
		Source:   uint8(canID),
	}
	ps := uint8(canID >> 8)
	pf := uint8(canID >> 16)
	dp := (canID >> 24) & 0x3
	pgn := dp<<16 | uint32(pf)<<8
	if pf < 240 {
		h.Destination = ps
		h.PGN = pgn
	} else {
		h.Destination = AddressGlobal
		h.PGN = pgn | uint32(ps)
	}
	return h
}

// IsGlobal reports whether the frame is addressed to all nodes.
func (h Header) IsGlobal() bool {
	return h.Destination == AddressGlobal
}
