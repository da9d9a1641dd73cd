package driver

import (
	"context"
	"errors"
	"sync"
)

const mockRxBufferSize = 1024

// MockCan is a virtual CAN endpoint for tests and demos. Frames written to
// one endpoint appear on the receive channels of its peers.
type MockCan struct {
	mu      sync.Mutex
	rxChan  chan Message
	ctx     context.Context
	cancel  context.CancelFunc
	peers   []*MockCan
	running bool
}

func NewMockCan() *MockCan {
	ctx, cancel := context.WithCancel(context.Background())
	return &MockCan{
		rxChan: make(chan Message, mockRxBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewMockPair returns two endpoints wired back to back, like two nodes on one
// bus segment.
func NewMockPair() (*MockCan, *MockCan) {
	a := NewMockCan()
	b := NewMockCan()
	a.peers = append(a.peers, b)
	b.peers = append(b.peers, a)
	return a, b
}

func (c *MockCan) Init() error {
	return nil
}

func (c *MockCan) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
}

func (c *MockCan) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	close(c.rxChan)
}

func (c *MockCan) Write(id uint32, data []byte) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errors.New("mock CAN device is stopped")
	}
	peers := c.peers
	c.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	msg := Message{ID: id, Data: buf, Extended: true}
	for _, peer := range peers {
		if err := peer.deliver(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *MockCan) deliver(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	select {
	case c.rxChan <- msg:
		return nil
	default:
		return errors.New("mock CAN receive buffer full")
	}
}

func (c *MockCan) RxChan() <-chan Message {
	return c.rxChan
}

func (c *MockCan) Context() context.Context {
	return c.ctx
}
