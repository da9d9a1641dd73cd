package tp

// TP.CM multiplexor values (first data byte of a connection management frame).
const (
	muxRequestToSend     byte = 0x10
	muxClearToSend       byte = 0x11
	muxEndOfMessageAck   byte = 0x13
	muxBroadcastAnnounce byte = 0x20
	muxConnectionAbort   byte = 0xFF
)

const (
	sequenceNumberIndex   = 0
	protocolBytesPerFrame = 7
	canDataLength         = 8
	minProtocolDataLength = 9
	maxProtocolDataLength = 1785
)

// Protocol timing constants in milliseconds, per ISO 11783-3 / J1939-21.
const (
	T1TimeoutMs   = 750  // broadcast rx inter-frame watchdog
	T2T3TimeoutMs = 1250 // tx wait for CTS / wait for EoM ACK
	T4TimeoutMs   = 1050 // hold-open window, reserved
	TrTimeoutMs   = 200  // connection-mode rx inter-frame watchdog
)

func putPGN(buf []byte, pgn uint32) {
	buf[0] = byte(pgn)
	buf[1] = byte(pgn >> 8)
	buf[2] = byte(pgn >> 16)
}

func getPGN(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
}

// craftRequestToSend builds the TP.CM_RTS payload.
func craftRequestToSend(length int, packetCount uint8, maxPacketsPerCTS uint8, pgn uint32) []byte {
	buf := []byte{
		muxRequestToSend,
		byte(length),
		byte(length >> 8),
		packetCount,
		maxPacketsPerCTS,
		0, 0, 0,
	}
	putPGN(buf[5:], pgn)
	return buf
}

// craftClearToSend builds the TP.CM_CTS payload. nextSequence is the 1-based
// sequence number the sender must continue with.
func craftClearToSend(packetsToSend uint8, nextSequence uint8, pgn uint32) []byte {
	buf := []byte{
		muxClearToSend,
		packetsToSend,
		nextSequence,
		0xFF, 0xFF,
		0, 0, 0,
	}
	putPGN(buf[5:], pgn)
	return buf
}

// craftEndOfMessageAck builds the TP.CM_EndOfMsgACK payload.
func craftEndOfMessageAck(length int, packetCount uint8, pgn uint32) []byte {
	buf := []byte{
		muxEndOfMessageAck,
		byte(length),
		byte(length >> 8),
		packetCount,
		0xFF,
		0, 0, 0,
	}
	putPGN(buf[5:], pgn)
	return buf
}

// craftBroadcastAnnounce builds the TP.CM_BAM payload.
func craftBroadcastAnnounce(length int, packetCount uint8, pgn uint32) []byte {
	buf := []byte{
		muxBroadcastAnnounce,
		byte(length),
		byte(length >> 8),
		packetCount,
		0xFF,
		0, 0, 0,
	}
	putPGN(buf[5:], pgn)
	return buf
}

// craftConnectionAbort builds the TP.Conn_Abort payload.
func craftConnectionAbort(reason AbortReason, pgn uint32) []byte {
	buf := []byte{
		muxConnectionAbort,
		byte(reason),
		0xFF, 0xFF, 0xFF,
		0, 0, 0,
	}
	putPGN(buf[5:], pgn)
	return buf
}

// ControlFrame is a decoded TP.CM frame. Fields are populated according to the
// multiplexor; the PGN is the encapsulated message's group number, not the
// frame's own.
type ControlFrame struct {
	Mux              byte
	Length           int
	PacketCount      uint8
	MaxPacketsPerCTS uint8
	PacketsToSend    uint8
	NextSequence     uint8
	Reason           AbortReason
	PGN              uint32
}

// parseControlFrame decodes an 8-byte TP.CM payload. The caller has already
// verified the length.
func parseControlFrame(data []byte) (ControlFrame, error) {
	cf := ControlFrame{Mux: data[0], PGN: getPGN(data[5:])}
	switch data[0] {
	case muxRequestToSend:
		cf.Length = int(data[1]) | int(data[2])<<8
		cf.PacketCount = data[3]
		cf.MaxPacketsPerCTS = data[4]
	case muxClearToSend:
		cf.PacketsToSend = data[1]
		cf.NextSequence = data[2]
	case muxEndOfMessageAck, muxBroadcastAnnounce:
		cf.Length = int(data[1]) | int(data[2])<<8
		cf.PacketCount = data[3]
	case muxConnectionAbort:
		cf.Reason = abortReasonFromByte(data[1])
	default:
		return cf, BadMultiplexorError{newProtocolError("unknown connection management multiplexor")}
	}
	return cf, nil
}

// packetCountForLength returns ceil(length / 7).
func packetCountForLength(length int) uint8 {
	count := length / protocolBytesPerFrame
	if length%protocolBytesPerFrame != 0 {
		count++
	}
	return uint8(count)
}
