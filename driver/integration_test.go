package driver

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/j1939tp/tp"
)

type node struct {
	bus    *BusAdapter
	engine *tp.Engine
	stack  *tp.Stack
	local  *tp.ControlFunction
	peer   *tp.ControlFunction
	rx     chan []byte
}

func newNode(t *testing.T, dev CANDriver, localAddr, peerAddr uint8) *node {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	bus, err := NewBusAdapter(dev, log)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	registry := tp.NewRegistry()
	n := &node{
		bus:   bus,
		local: registry.Claim(localAddr),
		peer:  registry.Claim(peerAddr),
		rx:    make(chan []byte, 4),
	}
	n.engine = tp.NewEngine(bus, registry, nil)
	n.engine.SetLogger(log)
	n.engine.SetMessageCallback(func(pgn uint32, source, destination *tp.ControlFunction, data tp.Data) {
		buf := make([]byte, data.Len())
		for i := range buf {
			buf[i] = data.GetByte(i)
		}
		n.rx <- buf
	})
	n.stack = tp.NewStack(n.engine)
	return n
}

func countingPayload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

// TestStacks_ConnectionModeTransfer runs a full RTS/CTS/EoM round trip between
// two stacks over the virtual bus.
func TestStacks_ConnectionModeTransfer(t *testing.T) {
	devA, devB := NewMockPair()
	a := newNode(t, devA, 0x1C, 0x2A)
	b := newNode(t, devB, 0x2A, 0x1C)
	defer a.bus.Close()
	defer b.bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.stack.Run(ctx, a.bus.Frames())
	go b.stack.Run(ctx, b.bus.Frames())

	payload := countingPayload(100)
	done := make(chan bool, 1)
	err := a.stack.Send(0xEF00, tp.NewDataVectorFromBytes(payload), a.local, a.peer,
		func(pgn uint32, length int, source, dest *tp.ControlFunction, success bool, ctx any) {
			done <- success
		}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case success := <-done:
		if !success {
			t.Fatal("transfer reported failure")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tx completion")
	}

	select {
	case got := <-b.rx:
		if !bytes.Equal(got, payload) {
			t.Errorf("delivered payload mismatch: %x", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

// TestStacks_BroadcastTransfer checks a BAM transfer with its 50 ms pacing.
func TestStacks_BroadcastTransfer(t *testing.T) {
	devA, devB := NewMockPair()
	a := newNode(t, devA, 0x1C, 0x2A)
	b := newNode(t, devB, 0x2A, 0x1C)
	defer a.bus.Close()
	defer b.bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.stack.Run(ctx, a.bus.Frames())
	go b.stack.Run(ctx, b.bus.Frames())

	payload := countingPayload(21)
	done := make(chan bool, 1)
	start := time.Now()
	err := a.stack.Send(0xFECA, tp.NewDataVectorFromBytes(payload), a.local, nil,
		func(pgn uint32, length int, source, dest *tp.ControlFunction, success bool, ctx any) {
			done <- success
		}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case success := <-done:
		if !success {
			t.Fatal("broadcast reported failure")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for broadcast completion")
	}
	// Three data frames, each at least 50 ms apart.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("broadcast finished too fast for BAM pacing: %v", elapsed)
	}

	select {
	case got := <-b.rx:
		if !bytes.Equal(got, payload) {
			t.Errorf("delivered payload mismatch: %x", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for broadcast delivery")
	}
}

// TestStacks_QueuedSendWaitsForFreeSlot verifies that a second transfer to the
// same peer stays queued until the first one finishes.
func TestStacks_QueuedSendWaitsForFreeSlot(t *testing.T) {
	devA, devB := NewMockPair()
	a := newNode(t, devA, 0x1C, 0x2A)
	b := newNode(t, devB, 0x2A, 0x1C)
	defer a.bus.Close()
	defer b.bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.stack.Run(ctx, a.bus.Frames())
	go b.stack.Run(ctx, b.bus.Frames())

	done := make(chan bool, 2)
	complete := func(pgn uint32, length int, source, dest *tp.ControlFunction, success bool, ctx any) {
		done <- success
	}
	for i := 0; i < 2; i++ {
		if err := a.stack.Send(0xEF00, tp.NewDataVectorFromBytes(countingPayload(50)), a.local, a.peer, complete, nil); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case success := <-done:
			if !success {
				t.Fatalf("transfer %d reported failure", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for transfer %d", i)
		}
	}
	if got := len(b.rx); got != 2 {
		t.Errorf("expected 2 deliveries, got %d", got)
	}
}
