package tp

import (
	"bytes"
	"testing"
)

// --- Identifier codec ---

func TestIdentifier_PDU1RoundTrip(t *testing.T) {
	h := Header{Priority: 7, PGN: PGNConnectionManagement, Source: 0x1C, Destination: 0x2A}
	got := ParseID(h.ID())
	if got != h {
		t.Errorf("round trip mismatch: %+v != %+v", got, h)
	}
}

func TestIdentifier_PDU1Global(t *testing.T) {
	h := Header{Priority: 7, PGN: PGNDataTransfer, Source: 0x05, Destination: AddressGlobal}
	got := ParseID(h.ID())
	if !got.IsGlobal() {
		t.Error("expected global destination")
	}
	if got.PGN != PGNDataTransfer {
		t.Errorf("expected PGN %#06x, got %#06x", PGNDataTransfer, got.PGN)
	}
}

func TestIdentifier_PDU2(t *testing.T) {
	// PF >= 240: the PS byte is a group extension, destination is implicitly
	// global.
	h := Header{Priority: 6, PGN: 0x00FECA, Source: 0x80}
	got := ParseID(h.ID())
	if got.PGN != 0x00FECA {
		t.Errorf("expected PGN 0x00FECA, got %#06x", got.PGN)
	}
	if got.Destination != AddressGlobal {
		t.Errorf("expected global destination, got %d", got.Destination)
	}
	if got.Source != 0x80 {
		t.Errorf("expected source 0x80, got %#02x", got.Source)
	}
}

// --- Control frame packing ---

func TestControl_RequestToSendRoundTrip(t *testing.T) {
	data := craftRequestToSend(1785, 255, 16, 0xEF00)
	if !bytes.Equal(data, []byte{0x10, 0xF9, 0x06, 0xFF, 0x10, 0x00, 0xEF, 0x00}) {
		t.Fatalf("unexpected RTS bytes: %x", data)
	}
	cf, err := parseControlFrame(data)
	if err != nil {
		t.Fatalf("failed to parse RTS: %v", err)
	}
	if cf.Length != 1785 || cf.PacketCount != 255 || cf.MaxPacketsPerCTS != 16 || cf.PGN != 0xEF00 {
		t.Errorf("unexpected RTS fields: %+v", cf)
	}
}

func TestControl_ClearToSendRoundTrip(t *testing.T) {
	data := craftClearToSend(3, 4, 0x00FE12)
	if !bytes.Equal(data, []byte{0x11, 0x03, 0x04, 0xFF, 0xFF, 0x12, 0xFE, 0x00}) {
		t.Fatalf("unexpected CTS bytes: %x", data)
	}
	cf, err := parseControlFrame(data)
	if err != nil {
		t.Fatalf("failed to parse CTS: %v", err)
	}
	if cf.PacketsToSend != 3 || cf.NextSequence != 4 || cf.PGN != 0x00FE12 {
		t.Errorf("unexpected CTS fields: %+v", cf)
	}
}

func TestControl_BroadcastAnnounce(t *testing.T) {
	data := craftBroadcastAnnounce(100, 15, 0xFECA)
	want := []byte{0x20, 0x64, 0x00, 0x0F, 0xFF, 0xCA, 0xFE, 0x00}
	if !bytes.Equal(data, want) {
		t.Fatalf("unexpected BAM bytes: %x, want %x", data, want)
	}
}

func TestControl_EndOfMessageAckRoundTrip(t *testing.T) {
	data := craftEndOfMessageAck(20, 3, 0xEF00)
	cf, err := parseControlFrame(data)
	if err != nil {
		t.Fatalf("failed to parse EoM ACK: %v", err)
	}
	if cf.Mux != muxEndOfMessageAck || cf.Length != 20 || cf.PacketCount != 3 {
		t.Errorf("unexpected EoM fields: %+v", cf)
	}
}

func TestControl_AbortReasonTolerance(t *testing.T) {
	cases := []struct {
		raw  byte
		want AbortReason
	}{
		{1, AbortAlreadyInSession},
		{8, AbortDuplicateSequenceNumber},
		{0, AbortAnyOtherError},
		{42, AbortAnyOtherError},
		{250, AbortAnyOtherError},
	}
	for _, tc := range cases {
		cf, err := parseControlFrame(craftConnectionAbort(AbortReason(tc.raw), 0xEF00))
		if err != nil {
			t.Fatalf("failed to parse abort %d: %v", tc.raw, err)
		}
		if cf.Reason != tc.want {
			t.Errorf("reason %d: expected %v, got %v", tc.raw, tc.want, cf.Reason)
		}
	}
}

func TestControl_BadMultiplexor(t *testing.T) {
	data := []byte{0x42, 0, 0, 0, 0, 0, 0, 0}
	if _, err := parseControlFrame(data); err == nil {
		t.Error("expected an error for an unknown multiplexor")
	}
}

func TestPacketCountForLength(t *testing.T) {
	cases := []struct {
		length int
		want   uint8
	}{
		{9, 2},
		{14, 2},
		{15, 3},
		{100, 15},
		{1785, 255},
	}
	for _, tc := range cases {
		if got := packetCountForLength(tc.length); got != tc.want {
			t.Errorf("packetCountForLength(%d) = %d, want %d", tc.length, got, tc.want)
		}
	}
}
