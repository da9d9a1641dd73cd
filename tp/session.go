package tp

type direction uint8

const (
	directionTransmit direction = iota
	directionReceive
)

type sessionState uint8

const (
	stateNone sessionState = iota
	stateClearToSend
	stateRxDataSession
	stateRequestToSend
	stateWaitForClearToSend
	stateBroadcastAnnounce
	stateTxDataSession
	stateWaitForEndOfMessageAck
)

// TransmitCompleteCallback reports the outcome of one submitted transfer.
// destination is nil for broadcast sessions. Invoked exactly once.
type TransmitCompleteCallback func(pgn uint32, length int, source, destination *ControlFunction, success bool, ctx any)

// MessageCallback delivers one reassembled inbound message before its session
// is destroyed. destination is nil for broadcast.
type MessageCallback func(pgn uint32, source, destination *ControlFunction, data Data)

// session is the engine's record of one in-progress transfer. destination nil
// marks a broadcast session.
type session struct {
	direction   direction
	pgn         uint32
	source      *ControlFunction
	destination *ControlFunction
	data        Data

	state       sessionState
	timestampMs int64

	// lastSequence is the last 1-based sequence number processed or emitted in
	// this transfer; processedPackets counts since session start.
	lastSequence     uint32
	packetCount      uint8
	processedPackets uint32
	ctsWindow        uint8
	windowRemaining  uint8

	onComplete  TransmitCompleteCallback
	completeCtx any
}

func (s *session) isBroadcast() bool {
	return s.destination == nil
}

func (s *session) length() int {
	return s.data.Len()
}

// canContinue reports whether the peer handles the session depends on are
// still alive.
func (s *session) canContinue() bool {
	return s.source.Valid() && (s.isBroadcast() || s.destination.Valid())
}

func (s *session) setState(state sessionState, clock Clock) {
	s.state = state
	s.timestampMs = clock.Now()
}

// matches implements the ordered-pair session key: destination nil matches
// only broadcast sessions.
func (s *session) matches(source, destination *ControlFunction) bool {
	if s.source != source {
		return false
	}
	if destination == nil {
		return s.isBroadcast()
	}
	return s.destination == destination
}

// getSession finds the active session for the given source/destination pair.
func (e *Engine) getSession(source, destination *ControlFunction) (*session, bool) {
	for _, s := range e.sessions {
		if s.matches(source, destination) {
			return s, true
		}
	}
	return nil, false
}

func (e *Engine) hasSession(source, destination *ControlFunction) bool {
	_, ok := e.getSession(source, destination)
	return ok
}

func (e *Engine) addSession(s *session) {
	e.sessions = append(e.sessions, s)
}

func (e *Engine) removeSession(s *session) {
	for i, candidate := range e.sessions {
		if candidate == s {
			e.sessions = append(e.sessions[:i], e.sessions[i+1:]...)
			return
		}
	}
}

// ActiveSessions returns the number of in-flight transfers.
func (e *Engine) ActiveSessions() int {
	return len(e.sessions)
}
