//go:build linux

package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const (
	canFrameSize      = 16 // struct can_frame
	socketRxBufferLen = 1024
)

// SocketCan is a CANDriver over the Linux SocketCAN raw interface.
type SocketCan struct {
	iface   string
	fd      int
	ifindex int
	rxChan  chan Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSocketCan creates a driver bound to the named interface, e.g. "can0".
func NewSocketCan(iface string) *SocketCan {
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketCan{
		iface:  iface,
		fd:     -1,
		rxChan: make(chan Message, socketRxBufferLen),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *SocketCan) Init() error {
	ifi, err := net.InterfaceByName(c.iface)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", c.iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s: %w", c.iface, err)
	}
	c.fd = fd
	c.ifindex = ifi.Index
	return nil
}

func (c *SocketCan) Start() {
	go c.readLoop()
}

func (c *SocketCan) Stop() {
	c.cancel()
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
}

func (c *SocketCan) readLoop() {
	defer close(c.rxChan)
	buf := make([]byte, canFrameSize)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if c.ctx.Err() != nil || err != unix.EINTR {
				return
			}
			continue
		}
		if n < canFrameSize {
			continue
		}
		id := binary.NativeEndian.Uint32(buf[0:4])
		dlc := int(buf[4])
		if dlc > 8 {
			dlc = 8
		}
		data := make([]byte, dlc)
		copy(data, buf[8:8+dlc])
		msg := Message{
			ID:       id &^ (unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG | unix.CAN_ERR_FLAG),
			Data:     data,
			Extended: id&unix.CAN_EFF_FLAG != 0,
		}
		select {
		case c.rxChan <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// Write queues one frame without blocking; a full transmit queue surfaces as
// an error (EAGAIN), which the engine treats as a transient send failure.
func (c *SocketCan) Write(id uint32, data []byte) error {
	if c.fd < 0 {
		return fmt.Errorf("socketcan %s not initialized", c.iface)
	}
	if len(data) > 8 {
		return fmt.Errorf("payload too long for classic CAN: %d", len(data))
	}
	frame := make([]byte, canFrameSize)
	binary.NativeEndian.PutUint32(frame[0:4], id|unix.CAN_EFF_FLAG)
	frame[4] = byte(len(data))
	copy(frame[8:], data)
	return unix.Sendto(c.fd, frame, unix.MSG_DONTWAIT, &unix.SockaddrCAN{Ifindex: c.ifindex})
}

func (c *SocketCan) RxChan() <-chan Message {
	return c.rxChan
}

func (c *SocketCan) Context() context.Context {
	return c.ctx
}
