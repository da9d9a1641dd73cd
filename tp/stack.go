package tp

import (
	"context"
	"time"
)

// DefaultTickInterval keeps the engine comfortably inside the 50 ms bound the
// timeout machinery assumes.
const DefaultTickInterval = 10 * time.Millisecond

type txRequest struct {
	pgn         uint32
	data        Data
	source      *ControlFunction
	destination *ControlFunction
	onComplete  TransmitCompleteCallback
	ctx         any
}

// Stack wraps an Engine in an event loop so that concurrent embedders can use
// it. Inbound frames arrive on a channel, transmissions are queued from any
// goroutine, and all engine calls happen on the Run goroutine.
type Stack struct {
	engine       *Engine
	txQueue      *SafeQueue[txRequest]
	TickInterval time.Duration
}

func NewStack(engine *Engine) *Stack {
	return &Stack{
		engine:       engine,
		txQueue:      NewSafeQueue[txRequest](),
		TickInterval: DefaultTickInterval,
	}
}

// Engine exposes the wrapped engine. Only touch it from the Run goroutine or
// before Run starts.
func (s *Stack) Engine() *Engine { return s.engine }

// Send queues a transfer for submission on the event loop. Validation errors
// are returned immediately; retryable conditions (existing session for the
// pair, full table) keep the request queued until a slot frees up.
func (s *Stack) Send(pgn uint32, data Data, source, destination *ControlFunction, onComplete TransmitCompleteCallback, ctx any) error {
	if data == nil || data.Len() < minProtocolDataLength || data.Len() > maxProtocolDataLength {
		return MessageSizeError{}
	}
	if !source.Valid() {
		return InvalidSourceError{}
	}
	s.txQueue.Push(txRequest{
		pgn:         pgn,
		data:        data,
		source:      source,
		destination: destination,
		onComplete:  onComplete,
		ctx:         ctx,
	})
	return nil
}

// Run drives the engine until the context is cancelled. rxChan delivers
// inbound frames in arrival order; a closed rxChan also stops the loop.
func (s *Stack) Run(ctx context.Context, rxChan <-chan CanFrame) {
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-rxChan:
			if !ok {
				return
			}
			s.engine.HandleFrame(frame)

		case <-ticker.C:
			s.drainTxQueue()
			s.engine.Tick()
		}
	}
}

// drainTxQueue submits queued transfers, pushing the ones the engine cannot
// take yet back onto the tail of the queue.
func (s *Stack) drainTxQueue() {
	for i := s.txQueue.Len(); i > 0; i-- {
		req, ok := s.txQueue.Pop()
		if !ok {
			return
		}
		if !req.source.Valid() {
			// The node went offline while queued; surface the failure the way
			// a live session would.
			if req.onComplete != nil {
				req.onComplete(req.pgn, req.data.Len(), req.source, req.destination, false, req.ctx)
			}
			continue
		}
		if !s.engine.SubmitTx(req.pgn, req.data, req.source, req.destination, req.onComplete, req.ctx) {
			s.txQueue.Push(req)
		}
	}
}
