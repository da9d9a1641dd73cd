package tp

import (
	"github.com/sirupsen/logrus"
)

// FrameIO is the engine's only outbound collaborator. Send must not block:
// it returns false when the transmit queue is full or the bus is unavailable,
// and the engine retries on a later tick.
type FrameIO interface {
	Send(pgn uint32, priority uint8, source uint8, destination uint8, data []byte) bool
}

// Engine runs the transport protocol state machines for every active session
// on one channel. All methods must be called from the same goroutine; see
// Stack for a ready-made funnel.
type Engine struct {
	config    Config
	io        FrameIO
	registry  *Registry
	clock     Clock
	log       *logrus.Logger
	sessions  []*session
	onMessage MessageCallback
}

// NewEngine creates an engine over the given frame I/O and node registry.
// A nil config selects DefaultConfig.
func NewEngine(io FrameIO, registry *Registry, config *Config) *Engine {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &Engine{
		config:   cfg,
		io:       io,
		registry: registry,
		clock:    NewMonotonicClock(),
		log:      logrus.StandardLogger(),
	}
}

// SetClock replaces the engine's time source. Intended for tests.
func (e *Engine) SetClock(clock Clock) { e.clock = clock }

// SetLogger replaces the engine's logger. nil selects the standard logger.
func (e *Engine) SetLogger(log *logrus.Logger) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e.log = log
}

// SetMessageCallback installs the upward delivery callback for reassembled
// inbound messages.
func (e *Engine) SetMessageCallback(cb MessageCallback) { e.onMessage = cb }

// SubmitTx starts a transfer of data to destination, or to all nodes when
// destination is nil. It returns false when the payload length is outside
// 9..1785, the source has no valid address, a session already exists for the
// pair, or the session table is full. On success the transfer proceeds on
// subsequent ticks and onComplete fires exactly once at termination.
func (e *Engine) SubmitTx(pgn uint32, data Data, source, destination *ControlFunction, onComplete TransmitCompleteCallback, ctx any) bool {
	if data == nil || data.Len() < minProtocolDataLength || data.Len() > maxProtocolDataLength {
		return false
	}
	if !source.Valid() {
		return false
	}
	if e.hasSession(source, destination) {
		return false
	}
	if len(e.sessions) >= e.config.MaxSessions {
		return false
	}

	s := &session{
		direction:   directionTransmit,
		pgn:         pgn,
		source:      source,
		destination: destination,
		data:        data,
		packetCount: packetCountForLength(data.Len()),
		onComplete:  onComplete,
		completeCtx: ctx,
	}
	if destination != nil {
		s.setState(stateRequestToSend, e.clock)
	} else {
		s.setState(stateBroadcastAnnounce, e.clock)
	}
	e.addSession(s)
	e.log.WithFields(logrus.Fields{"pgn": pgn, "len": data.Len(), "src": source.Address()}).
		Debug("[TP]: new tx session")
	return true
}

// HandleFrame routes one inbound frame by its PGN. Frames on other groups are
// not the transport protocol's business and are ignored.
func (e *Engine) HandleFrame(frame CanFrame) {
	header := ParseID(frame.ID)
	switch header.PGN {
	case PGNConnectionManagement:
		e.OnConnectionManagementFrame(header, frame.Data)
	case PGNDataTransfer:
		e.OnDataTransferFrame(header, frame.Data)
	}
}

// OnConnectionManagementFrame processes one inbound TP.CM frame.
func (e *Engine) OnConnectionManagementFrame(header Header, data []byte) {
	if len(data) != canDataLength {
		e.log.Warnf("[TP]: received a connection management frame of invalid length %d", len(data))
		return
	}
	source := e.registry.Lookup(header.Source)
	if source == nil {
		e.log.Warnf("[TP]: dropping connection management frame from unknown source %d", header.Source)
		return
	}
	var destination *ControlFunction
	if !header.IsGlobal() {
		destination = e.registry.Lookup(header.Destination)
		if destination == nil {
			e.log.Warnf("[TP]: dropping connection management frame for unknown destination %d", header.Destination)
			return
		}
	}

	control, err := parseControlFrame(data)
	if err != nil {
		e.log.Warnf("[TP]: %v", err)
		return
	}

	switch control.Mux {
	case muxBroadcastAnnounce:
		if !header.IsGlobal() {
			e.log.Warn("[TP]: received a BAM with a non-global destination, ignoring")
			return
		}
		e.processBroadcastAnnounce(source, control)
	case muxRequestToSend:
		if header.IsGlobal() {
			e.log.Warn("[TP]: received an RTS with a global destination, ignoring")
			return
		}
		e.processRequestToSend(source, destination, control)
	case muxClearToSend:
		if header.IsGlobal() {
			e.log.Warn("[TP]: received a CTS with a global destination, ignoring")
			return
		}
		e.processClearToSend(source, destination, control)
	case muxEndOfMessageAck:
		if header.IsGlobal() {
			e.log.Warn("[TP]: received an EoM ACK with a global destination, ignoring")
			return
		}
		e.processEndOfMessageAck(source, destination, control)
	case muxConnectionAbort:
		if header.IsGlobal() {
			e.log.Warn("[TP]: received an abort with a global destination, ignoring")
			return
		}
		e.processAbort(source, destination, control)
	}
}

// processBroadcastAnnounce opens a broadcast rx session. The standard forbids
// answering a BAM, so every failure here is silent.
func (e *Engine) processBroadcastAnnounce(source *ControlFunction, control ControlFrame) {
	if len(e.sessions) >= e.config.MaxSessions {
		e.log.Warnf("[TP]: ignoring BAM for %#06x, maximum number of sessions reached", control.PGN)
		return
	}
	if control.Length < minProtocolDataLength || control.Length > maxProtocolDataLength {
		e.log.Warnf("[TP]: ignoring BAM for %#06x with out-of-range length %d", control.PGN, control.Length)
		return
	}
	if existing, ok := e.getSession(source, nil); ok {
		e.log.Warnf("[TP]: received BAM while a session already existed for this source, overwriting for %#06x", control.PGN)
		e.closeSession(existing, false)
	}

	s := &session{
		direction:   directionReceive,
		pgn:         control.PGN,
		source:      source,
		data:        NewDataVector(control.Length),
		packetCount: control.PacketCount,
	}
	s.setState(stateRxDataSession, e.clock)
	e.addSession(s)
	e.log.WithFields(logrus.Fields{"pgn": control.PGN, "src": source.Address()}).
		Debug("[TP]: new rx broadcast session")
}

// processRequestToSend opens a connection-mode rx session.
func (e *Engine) processRequestToSend(source, destination *ControlFunction, control ControlFrame) {
	if len(e.sessions) >= e.config.MaxSessions {
		e.log.Warnf("[TP]: replying with abort to RTS for %#06x, maximum number of sessions reached", control.PGN)
		e.sendAbort(destination, source.Address(), control.PGN, AbortAlreadyInSession)
		return
	}
	if control.Length > maxProtocolDataLength {
		e.log.Warnf("[TP]: replying with abort to RTS for %#06x, length %d too big", control.PGN, control.Length)
		e.sendAbort(destination, source.Address(), control.PGN, AbortTotalMessageSizeTooBig)
		return
	}
	if control.Length < minProtocolDataLength {
		e.log.Warnf("[TP]: ignoring RTS for %#06x with undersized length %d", control.PGN, control.Length)
		return
	}
	if existing, ok := e.getSession(source, destination); ok {
		if existing.pgn != control.PGN {
			e.log.Errorf("[TP]: received RTS while a session already existed for this source and destination, aborting for %#06x", control.PGN)
			e.abortSession(existing, AbortAlreadyInSession)
		} else {
			e.log.Warnf("[TP]: received RTS while a session already existed for this source, destination and pgn, overwriting for %#06x", control.PGN)
			e.closeSession(existing, false)
		}
	}

	window := control.MaxPacketsPerCTS
	if window == 0 {
		// No limit advertised; grant as much as fits in one CTS.
		window = 0xFF
	}
	s := &session{
		direction:   directionReceive,
		pgn:         control.PGN,
		source:      source,
		destination: destination,
		data:        NewDataVector(control.Length),
		packetCount: control.PacketCount,
		ctsWindow:   window,
	}
	s.setState(stateClearToSend, e.clock)
	e.addSession(s)
	e.log.WithFields(logrus.Fields{"pgn": control.PGN, "src": source.Address(), "dst": destination.Address()}).
		Debug("[TP]: new rx connection-mode session")
}

// processClearToSend applies a peer's CTS to our tx session. The frame's
// source is the data receiver, so the session is keyed the other way around.
func (e *Engine) processClearToSend(source, destination *ControlFunction, control ControlFrame) {
	s, ok := e.getSession(destination, source)
	if !ok {
		e.log.Warnf("[TP]: received CTS for %#06x while no session existed for this source and destination, sending abort", control.PGN)
		e.sendAbort(destination, source.Address(), control.PGN, AbortAnyOtherError)
		return
	}
	switch {
	case s.pgn != control.PGN:
		// Two aborts go out: one for the session's own PGN, one for the PGN
		// the stray CTS named, so the peer drops whatever transfer it thinks
		// is using it.
		e.log.Errorf("[TP]: received CTS for %#06x while the session carries %#06x, sending abort for both", control.PGN, s.pgn)
		e.abortSession(s, AbortAnyOtherError)
		e.sendAbort(destination, source.Address(), control.PGN, AbortAnyOtherError)
	case uint32(control.NextSequence) != s.processedPackets+1:
		e.log.Errorf("[TP]: received CTS for %#06x with a bad sequence number, aborting", control.PGN)
		e.abortSession(s, AbortBadSequenceNumber)
	case s.state != stateWaitForClearToSend:
		e.log.Warnf("[TP]: received CTS for %#06x while not expecting one, aborting", control.PGN)
		e.abortSession(s, AbortCTSWhileTransferring)
	default:
		s.ctsWindow = control.PacketsToSend
		s.timestampMs = e.clock.Now()
		// Zero packets means the receiver wants us to hold; stay here until a
		// non-zero CTS arrives.
		if control.PacketsToSend != 0 {
			s.windowRemaining = control.PacketsToSend
			s.state = stateTxDataSession
		}
	}
}

// processEndOfMessageAck completes our tx session.
func (e *Engine) processEndOfMessageAck(source, destination *ControlFunction, control ControlFrame) {
	s, ok := e.getSession(destination, source)
	if !ok {
		e.log.Warnf("[TP]: received EoM ACK for %#06x while no session existed for this source and destination, sending abort", control.PGN)
		e.sendAbort(destination, source.Address(), control.PGN, AbortAnyOtherError)
		return
	}
	if s.state == stateWaitForEndOfMessageAck {
		e.closeSession(s, true)
	} else {
		// Not expecting one; the standard says to ignore it.
		e.log.Warnf("[TP]: received EoM ACK for %#06x while not expecting one, ignoring", control.PGN)
	}
}

// processAbort tears down whichever session the abort refers to. The frame
// may name either direction of the pair.
func (e *Engine) processAbort(source, destination *ControlFunction, control ControlFrame) {
	found := false
	if s, ok := e.getSession(source, destination); ok && s.pgn == control.PGN {
		found = true
		e.log.Errorf("[TP]: received abort (%v) for an rx session for %#06x", control.Reason, control.PGN)
		e.closeSession(s, false)
	}
	if s, ok := e.getSession(destination, source); ok && s.pgn == control.PGN {
		found = true
		e.log.Errorf("[TP]: received abort (%v) for a tx session for %#06x", control.Reason, control.PGN)
		e.closeSession(s, false)
	}
	if !found {
		e.log.Warnf("[TP]: received abort (%v) with no matching session for %#06x", control.Reason, control.PGN)
	}
}

// OnDataTransferFrame processes one inbound TP.DT frame.
func (e *Engine) OnDataTransferFrame(header Header, data []byte) {
	if len(data) != canDataLength {
		e.log.Warnf("[TP]: received a data transfer frame of invalid length %d", len(data))
		return
	}
	source := e.registry.Lookup(header.Source)
	if source == nil {
		e.log.Warnf("[TP]: dropping data transfer frame from unknown source %d", header.Source)
		return
	}
	var destination *ControlFunction
	if !header.IsGlobal() {
		destination = e.registry.Lookup(header.Destination)
		if destination == nil {
			e.log.Warnf("[TP]: dropping data transfer frame for unknown destination %d", header.Destination)
			return
		}
	}

	s, ok := e.getSession(source, destination)
	if !ok {
		if !header.IsGlobal() {
			e.log.Warnf("[TP]: received a data transfer frame from %d with no matching session, ignoring", header.Source)
		}
		return
	}

	if s.state != stateRxDataSession {
		e.log.Warnf("[TP]: received a data transfer frame from %d while not expecting one, aborting", header.Source)
		e.abortSession(s, AbortUnexpectedDataTransfer)
		return
	}

	sequence := uint32(data[sequenceNumberIndex])
	switch {
	case sequence == s.lastSequence:
		e.log.Errorf("[TP]: aborting rx session for %#06x due to duplicate sequence number %d", s.pgn, sequence)
		e.abortSession(s, AbortDuplicateSequenceNumber)
	case sequence == s.lastSequence+1:
		e.acceptDataPacket(s, data)
	default:
		e.log.Errorf("[TP]: aborting rx session for %#06x due to bad sequence number %d", s.pgn, sequence)
		e.abortSession(s, AbortBadSequenceNumber)
	}
}

// acceptDataPacket copies one in-order data frame into the session payload
// and drives completion and window renewal.
func (e *Engine) acceptDataPacket(s *session, data []byte) {
	offset := int(s.lastSequence) * protocolBytesPerFrame
	for i := 0; i < protocolBytesPerFrame && offset+i < s.length(); i++ {
		s.data.SetByte(offset+i, data[1+i])
	}
	s.lastSequence++
	s.processedPackets++
	s.timestampMs = e.clock.Now()
	if s.windowRemaining > 0 {
		s.windowRemaining--
	}

	if int(s.lastSequence)*protocolBytesPerFrame >= s.length() {
		if !s.isBroadcast() {
			e.sendEndOfMessageAck(s)
		}
		if e.onMessage != nil {
			e.onMessage(s.pgn, s.source, s.destination, s.data)
		}
		e.closeSession(s, true)
		return
	}
	if !s.isBroadcast() && s.windowRemaining == 0 {
		// Granted window consumed with bytes outstanding; issue the next CTS
		// on the following tick.
		s.setState(stateClearToSend, e.clock)
	}
}

// Tick advances every session's state machine once. Call it at least every
// 50 ms for timely timeout and pacing behavior.
func (e *Engine) Tick() {
	active := make([]*session, len(e.sessions))
	copy(active, e.sessions)
	for _, s := range active {
		if !e.stillActive(s) {
			continue
		}
		if !s.canContinue() {
			e.log.Warn("[TP]: closing active session as its control function went offline")
			e.abortSession(s, AbortAnyOtherError)
			continue
		}
		e.updateStateMachine(s)
	}
}

func (e *Engine) stillActive(s *session) bool {
	for _, candidate := range e.sessions {
		if candidate == s {
			return true
		}
	}
	return false
}

func (e *Engine) updateStateMachine(s *session) {
	switch s.state {
	case stateClearToSend:
		if e.sendClearToSend(s) {
			s.setState(stateRxDataSession, e.clock)
		}
	case stateRequestToSend:
		if e.sendRequestToSend(s) {
			s.setState(stateWaitForClearToSend, e.clock)
		}
	case stateBroadcastAnnounce:
		if e.sendBroadcastAnnounce(s) {
			s.setState(stateTxDataSession, e.clock)
		}
	case stateWaitForClearToSend, stateWaitForEndOfMessageAck:
		if timeExpired(e.clock, s.timestampMs, T2T3TimeoutMs) {
			e.log.Errorf("[TP]: timeout in tx session for %#06x", s.pgn)
			e.abortSession(s, AbortTimeout)
		}
	case stateTxDataSession:
		if s.isBroadcast() && !timeExpired(e.clock, s.timestampMs, e.config.BAMFrameGapMs) {
			// Hold for the minimum gap between broadcast data frames.
			return
		}
		e.sendDataTransferPackets(s)
	case stateRxDataSession:
		if s.isBroadcast() {
			if timeExpired(e.clock, s.timestampMs, T1TimeoutMs) {
				e.log.Warn("[TP]: broadcast rx session timed out")
				e.closeSession(s, false)
			}
		} else {
			if timeExpired(e.clock, s.timestampMs, TrTimeoutMs) {
				e.log.Errorf("[TP]: rx session for %#06x timed out", s.pgn)
				e.abortSession(s, AbortTimeout)
			}
		}
	}
}

// sendDataTransferPackets emits as many data frames as the cleared window,
// the per-tick budget and the bus allow. Broadcast sessions emit one frame
// per call and rely on the tick pacing for the inter-frame gap.
func (e *Engine) sendDataTransferPackets(s *session) {
	buf := make([]byte, canDataLength)
	destAddr := AddressGlobal
	if !s.isBroadcast() {
		destAddr = s.destination.Address()
	}

	framesSent := 0
	for s.processedPackets < uint32(s.packetCount) {
		buf[0] = byte(s.processedPackets + 1)
		for j := 0; j < protocolBytesPerFrame; j++ {
			index := int(s.processedPackets)*protocolBytesPerFrame + j
			if index < s.length() {
				buf[1+j] = s.data.GetByte(index)
			} else {
				buf[1+j] = 0xFF
			}
		}
		if !e.io.Send(PGNDataTransfer, e.config.Priority, s.source.Address(), destAddr, buf) {
			// Bus saturated; counters untouched for this frame, retry on the
			// next tick.
			break
		}
		s.processedPackets++
		s.lastSequence = s.processedPackets
		s.timestampMs = e.clock.Now()
		framesSent++

		if s.isBroadcast() {
			break
		}
		s.windowRemaining--
		if s.windowRemaining == 0 || framesSent >= e.config.FramesPerTick {
			break
		}
	}

	if s.processedPackets >= uint32(s.packetCount) {
		if s.isBroadcast() {
			e.closeSession(s, true)
		} else {
			s.setState(stateWaitForEndOfMessageAck, e.clock)
		}
	} else if !s.isBroadcast() && s.windowRemaining == 0 {
		s.setState(stateWaitForClearToSend, e.clock)
	}
}

func (e *Engine) sendRequestToSend(s *session) bool {
	data := craftRequestToSend(s.length(), s.packetCount, 0xFF, s.pgn)
	return e.io.Send(PGNConnectionManagement, e.config.Priority, s.source.Address(), s.destination.Address(), data)
}

func (e *Engine) sendBroadcastAnnounce(s *session) bool {
	data := craftBroadcastAnnounce(s.length(), s.packetCount, s.pgn)
	return e.io.Send(PGNConnectionManagement, e.config.Priority, s.source.Address(), AddressGlobal, data)
}

// sendClearToSend grants the peer the next window. On success the freshly
// granted count becomes the session's outstanding window.
func (e *Engine) sendClearToSend(s *session) bool {
	remaining := uint32(s.packetCount) - s.processedPackets
	grant := uint32(s.ctsWindow)
	if grant > remaining {
		grant = remaining
	}
	data := craftClearToSend(uint8(grant), uint8(s.processedPackets+1), s.pgn)
	if !e.io.Send(PGNConnectionManagement, e.config.Priority, s.destination.Address(), s.source.Address(), data) {
		return false
	}
	s.windowRemaining = uint8(grant)
	return true
}

func (e *Engine) sendEndOfMessageAck(s *session) bool {
	data := craftEndOfMessageAck(s.length(), s.packetCount, s.pgn)
	return e.io.Send(PGNConnectionManagement, e.config.Priority, s.destination.Address(), s.source.Address(), data)
}

// sendAbort emits a one-shot abort from the given local control function.
func (e *Engine) sendAbort(from *ControlFunction, to uint8, pgn uint32, reason AbortReason) bool {
	return e.io.Send(PGNConnectionManagement, e.config.Priority, from.Address(), to, craftConnectionAbort(reason, pgn))
}

// abortSession tears a session down with a wire abort where one is possible:
// broadcast transfers get no feedback, and a session whose local handle no
// longer resolves has no address to speak for.
func (e *Engine) abortSession(s *session, reason AbortReason) {
	if !s.isBroadcast() {
		local, partner := s.destination, s.source
		if s.direction == directionTransmit {
			local, partner = s.source, s.destination
		}
		// The abort still goes out to the partner's last known address when
		// only the partner expired; without a valid local address there is
		// nothing to speak for.
		if local.Valid() && partner != nil {
			e.sendAbort(local, partner.Address(), s.pgn, reason)
		}
	}
	e.closeSession(s, false)
}

// closeSession destroys a session, firing the tx completion callback exactly
// once. Upward rx delivery happens before calling this.
func (e *Engine) closeSession(s *session, successful bool) {
	if s.direction == directionTransmit && s.onComplete != nil {
		s.onComplete(s.pgn, s.length(), s.source, s.destination, successful, s.completeCtx)
	}
	e.removeSession(s)
	e.log.Debug("[TP]: session closed")
}
