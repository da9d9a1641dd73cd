package driver

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/j1939tp/tp"
)

// BusAdapter connects a CANDriver to the transport engine: it satisfies
// tp.FrameIO for the outbound direction and republishes inbound frames as
// tp.CanFrame for the stack's event loop.
type BusAdapter struct {
	driver CANDriver
	rxOut  chan tp.CanFrame
	log    *logrus.Logger
}

// NewBusAdapter initializes and starts the driver and begins pumping its
// receive channel.
func NewBusAdapter(dev CANDriver, log *logrus.Logger) (*BusAdapter, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := dev.Init(); err != nil {
		return nil, err
	}
	dev.Start()

	a := &BusAdapter{
		driver: dev,
		rxOut:  make(chan tp.CanFrame, 1024),
		log:    log,
	}
	go a.pump()
	return a, nil
}

func (a *BusAdapter) pump() {
	defer close(a.rxOut)
	for msg := range a.driver.RxChan() {
		if !msg.Extended {
			// 11-bit traffic is never transport protocol.
			continue
		}
		select {
		case a.rxOut <- tp.CanFrame{ID: msg.ID, Data: msg.Data}:
		default:
			a.log.Warn("adapter rx buffer full, dropping frame")
		}
	}
}

// Frames returns the inbound frame channel, suitable for Stack.Run.
func (a *BusAdapter) Frames() <-chan tp.CanFrame { return a.rxOut }

// Send implements tp.FrameIO. A failed or refused write reports false so the
// engine retries on its next tick.
func (a *BusAdapter) Send(pgn uint32, priority uint8, source, destination uint8, data []byte) bool {
	header := tp.Header{Priority: priority, PGN: pgn, Source: source, Destination: destination}
	if err := a.driver.Write(header.ID(), data); err != nil {
		a.log.WithField("pgn", pgn).Debugf("frame send failed: %v", err)
		return false
	}
	return true
}

// Close stops the underlying driver; the pump goroutine ends when the driver
// closes its receive channel.
func (a *BusAdapter) Close() {
	a.driver.Stop()
}
