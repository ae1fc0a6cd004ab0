package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
)

const leaveTimeout = 2 * time.Second

// CallObserver is notified of session changes. Callbacks are delivered in
// order on a goroutine of their own and may call back into the session,
// End included.
type CallObserver interface {
	OnStateChange(state domain.CallState, err error)
	// OnError reports a local failure the call survives, such as a
	// screen share that could not start.
	OnError(err error)
}

type CallConfig struct {
	Room   domain.RoomID
	User   domain.UserID
	Facing domain.FacingMode
}

type CallDeps struct {
	Devices    port.MediaDevices
	Transports port.TransportFactory
	Signaling  port.SignalingDialer
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// CallSession drives one side of a two-party call, from acquiring media to
// teardown. All protocol state is owned by a single event loop.
type CallSession struct {
	cfg      CallConfig
	deps     CallDeps
	observer CallObserver
	tracks   *TrackController
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    domain.CallState
	role     domain.Role
	err      error
	started  bool
	finished bool
	sig      port.SignalingChannel
	pc       port.PeerConnection

	transportEvents chan domain.TransportEvent
	screenEnded     chan struct{}
	commands        chan command

	startDone  chan struct{}
	stopping   chan struct{}
	done       chan struct{}
	finishOnce sync.Once
	wg         sync.WaitGroup

	notifyMu     sync.Mutex
	notifyQueue  []func(CallObserver)
	notifying    bool
	notifyClosed bool

	// loop only
	peerPresent bool
	offerSent   bool
	remoteSet   bool
	pending     []domain.ICECandidate
}

func NewCallSession(cfg CallConfig, deps CallDeps, observer CallObserver, logger zerolog.Logger) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	l := logger.With().Str("room", cfg.Room.String()).Str("user_id", cfg.User.String()).Logger()

	s := &CallSession{
		cfg:             cfg,
		deps:            deps,
		observer:        observer,
		tracks:          NewTrackController(deps.Devices, cfg.Facing, l),
		logger:          l,
		ctx:             ctx,
		cancel:          cancel,
		state:           domain.StateIdle,
		transportEvents: make(chan domain.TransportEvent, 64),
		screenEnded:     make(chan struct{}, 1),
		commands:        make(chan command),
		startDone:       make(chan struct{}),
		stopping:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	s.tracks.OnScreenShareEnded(func() {
		select {
		case s.screenEnded <- struct{}{}:
		default:
		}
	})
	return s
}

// Start acquires media, opens the transport and joins the room. It returns
// once the join is sent; the rest of the call runs in the background until
// End or a failure.
func (s *CallSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: already started", domain.ErrInvalidState)
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.startDone)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.setState(domain.StateAcquiringMedia, nil)
	if err := s.tracks.Acquire(ctx); err != nil {
		return s.abort(err)
	}

	s.setState(domain.StateConnecting, nil)
	pc, err := s.deps.Transports.NewPeerConnection(s.onTransportEvent)
	if err != nil {
		return s.abort(fmt.Errorf("%w: %v", domain.ErrConnectivityFailed, err))
	}
	if !s.adopt(func() { s.pc = pc }) {
		pc.Close()
		return nil
	}
	if err := s.tracks.Attach(pc); err != nil {
		return s.abort(fmt.Errorf("%w: attach tracks: %v", domain.ErrConnectivityFailed, err))
	}

	sig, err := s.deps.Signaling.Dial(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("%w: %v", domain.ErrSignalingDisconnected, err))
	}
	if !s.adopt(func() { s.sig = sig }) {
		sig.Close()
		return nil
	}

	s.wg.Add(1)
	go s.loop(sig.Events())

	if err := sig.Send(ctx, domain.JoinMessage(s.cfg.Room, s.cfg.User)); err != nil {
		return s.abort(fmt.Errorf("%w: join: %v", domain.ErrSignalingDisconnected, err))
	}
	s.logger.Info().Msg("Joining call")
	return nil
}

// adopt stores a resource unless teardown already ran.
func (s *CallSession) adopt(store func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	store()
	return true
}

// abort fails the session from Start. If End got there first the error is
// only a consequence of the cancellation.
func (s *CallSession) abort(err error) error {
	if s.ctx.Err() != nil {
		return nil
	}
	s.finish(domain.StateFailed, err)
	return err
}

// End leaves the call and releases everything. Safe to call any number of
// times, from any state.
func (s *CallSession) End() error {
	s.finish(domain.StateEnded, nil)

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.startDone
	}
	s.wg.Wait()
	return nil
}

func (s *CallSession) finish(state domain.CallState, err error) {
	s.finishOnce.Do(func() {
		close(s.stopping)
		s.cancel()

		s.mu.Lock()
		s.finished = true
		sig, pc := s.sig, s.pc
		s.mu.Unlock()

		s.setState(state, err)
		if err != nil {
			s.logger.Warn().Err(err).Str("state", string(state)).Msg("Call terminated")
		} else {
			s.logger.Info().Str("state", string(state)).Msg("Call terminated")
		}

		if sig != nil {
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			if err := sig.Send(ctx, domain.LeaveMessage(s.cfg.Room, s.cfg.User)); err != nil {
				s.logger.Debug().Err(err).Msg("Leave not delivered")
			}
			cancel()
			sig.Close()
		}
		if pc != nil {
			pc.Close()
		}
		s.tracks.Close()
		close(s.done)
	})
}

func (s *CallSession) loop(events <-chan domain.Message) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopping:
			return

		case msg, ok := <-events:
			if !ok {
				s.finish(domain.StateFailed, domain.ErrSignalingDisconnected)
				return
			}
			s.handleMessage(msg)

		case ev := <-s.transportEvents:
			s.handleTransport(ev)

		case <-s.screenEnded:
			s.spawn(func() {
				if err := s.tracks.StopScreenShare(s.ctx); err != nil {
					s.reportError(err)
				}
			})

		case cmd := <-s.commands:
			s.spawn(func() { cmd.reply <- cmd.fn(s.ctx) })
		}
	}
}

func (s *CallSession) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *CallSession) handleMessage(msg domain.Message) {
	switch msg.Type {
	case domain.MessageJoined:
		s.mu.Lock()
		s.role = msg.Role
		s.mu.Unlock()
		s.logger.Info().Str("role", string(msg.Role)).Str("peer_id", msg.PeerID.String()).Msg("Joined call")
		if msg.PeerID != "" {
			s.peerPresent = true
		}
		s.maybeOffer()

	case domain.MessagePeerJoined:
		s.peerPresent = true
		s.maybeOffer()

	case domain.MessagePeerLeft, domain.MessagePeerReconnected:
		s.finish(domain.StateFailed, fmt.Errorf("%w: %s (%s)", domain.ErrPeerLeft, msg.UserID, msg.Type))

	case domain.MessageSignal:
		s.handleSignal(*msg.Signal)

	case domain.MessageError:
		err := msg.Err()
		switch {
		case errors.Is(err, domain.ErrRoomFull):
			s.finish(domain.StateFailed, err)
		case errors.Is(err, domain.ErrPeerUnavailable):
			s.logger.Debug().Err(err).Msg("Signal dropped by relay")
		default:
			s.logger.Warn().Err(err).Msg("Relay reported an error")
			s.reportError(err)
		}
	}
}

// maybeOffer sends the offer once, when this side is the initiator, its
// media is attached and the peer is in the room.
func (s *CallSession) maybeOffer() {
	if s.Role() != domain.RoleInitiator || !s.peerPresent || s.offerSent {
		return
	}
	offer, err := s.pc.CreateOffer(s.ctx)
	if err != nil {
		s.finish(domain.StateFailed, fmt.Errorf("%w: offer: %v", domain.ErrConnectivityFailed, err))
		return
	}
	s.offerSent = true
	s.send(domain.SignalMessage(s.cfg.Room, s.cfg.User, offer))
	s.logger.Debug().Msg("Offer sent")
}

func (s *CallSession) handleSignal(sig domain.Signal) {
	switch sig.Type {
	case domain.SignalOffer:
		if s.Role() == domain.RoleInitiator {
			s.logger.Warn().Msg("Ignoring offer received as initiator")
			return
		}
		if !s.applyRemote(sig) {
			return
		}
		answer, err := s.pc.CreateAnswer(s.ctx)
		if err != nil {
			s.finish(domain.StateFailed, fmt.Errorf("%w: answer: %v", domain.ErrConnectivityFailed, err))
			return
		}
		s.send(domain.SignalMessage(s.cfg.Room, s.cfg.User, answer))
		s.logger.Debug().Msg("Answer sent")

	case domain.SignalAnswer:
		if s.Role() != domain.RoleInitiator || !s.offerSent || s.remoteSet {
			s.logger.Warn().Msg("Ignoring unexpected answer")
			return
		}
		s.applyRemote(sig)

	case domain.SignalCandidate:
		if !s.remoteSet {
			s.pending = append(s.pending, *sig.Candidate)
			return
		}
		s.addCandidate(*sig.Candidate)
	}
}

func (s *CallSession) applyRemote(sig domain.Signal) bool {
	if err := s.pc.SetRemoteDescription(sig); err != nil {
		s.finish(domain.StateFailed, fmt.Errorf("%w: remote %s: %v", domain.ErrConnectivityFailed, sig.Type, err))
		return false
	}
	s.remoteSet = true
	for _, c := range s.pending {
		s.addCandidate(c)
	}
	s.pending = nil
	return true
}

func (s *CallSession) addCandidate(c domain.ICECandidate) {
	if err := s.pc.AddICECandidate(c); err != nil {
		s.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("Failed to add remote candidate")
	}
}

func (s *CallSession) handleTransport(ev domain.TransportEvent) {
	switch ev.Type {
	case domain.EventLocalCandidate:
		s.send(domain.SignalMessage(s.cfg.Room, s.cfg.User, domain.NewCandidate(ev.Candidate)))

	case domain.EventRemoteMedia:
		if s.State() == domain.StateConnecting {
			s.logger.Info().Str("kind", string(ev.Kind)).Msg("Remote media flowing")
			s.setState(domain.StateConnected, nil)
		}

	case domain.EventTransportFailed:
		err := ev.Err
		if err == nil {
			err = domain.ErrConnectivityFailed
		}
		s.finish(domain.StateFailed, err)
	}
}

func (s *CallSession) onTransportEvent(ev domain.TransportEvent) {
	select {
	case s.transportEvents <- ev:
	case <-s.stopping:
	}
}

// send failures surface as the events channel closing.
func (s *CallSession) send(msg domain.Message) {
	if err := s.sig.Send(s.ctx, msg); err != nil {
		s.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("Failed to send to relay")
	}
}

func (s *CallSession) setState(state domain.CallState, err error) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = err
	s.mu.Unlock()

	s.notify(func(o CallObserver) { o.OnStateChange(state, err) }, state.Terminal())
}

func (s *CallSession) reportError(err error) {
	s.notify(func(o CallObserver) { o.OnError(err) }, false)
}

// notify queues a callback. Nothing is delivered after the terminal state.
func (s *CallSession) notify(fn func(CallObserver), last bool) {
	if s.observer == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.notifyClosed {
		return
	}
	s.notifyClosed = last
	s.notifyQueue = append(s.notifyQueue, fn)
	if !s.notifying {
		s.notifying = true
		go s.deliver()
	}
}

func (s *CallSession) deliver() {
	for {
		s.notifyMu.Lock()
		if len(s.notifyQueue) == 0 {
			s.notifying = false
			s.notifyMu.Unlock()
			return
		}
		fn := s.notifyQueue[0]
		s.notifyQueue = s.notifyQueue[1:]
		s.notifyMu.Unlock()

		fn(s.observer)
	}
}

// do runs a user command through the event loop. Commands after the call is
// over are no-ops.
func (s *CallSession) do(ctx context.Context, fn func(ctx context.Context) error) error {
	switch s.State() {
	case domain.StateEnded, domain.StateFailed:
		return nil
	case domain.StateIdle, domain.StateAcquiringMedia:
		return fmt.Errorf("%w: call not connecting yet", domain.ErrInvalidState)
	}

	cmd := command{
		fn: func(sessionCtx context.Context) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			stop := context.AfterFunc(sessionCtx, cancel)
			defer stop()
			return fn(ctx)
		},
		reply: make(chan error, 1),
	}
	select {
	case s.commands <- cmd:
	case <-s.stopping:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	err := <-cmd.reply
	if err != nil {
		select {
		case <-s.stopping:
			return nil
		default:
		}
		s.reportError(err)
	}
	return err
}

func (s *CallSession) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return s.do(ctx, func(context.Context) error {
		s.tracks.SetAudioEnabled(enabled)
		return nil
	})
}

func (s *CallSession) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return s.do(ctx, func(context.Context) error {
		s.tracks.SetVideoEnabled(enabled)
		return nil
	})
}

func (s *CallSession) SwitchCamera(ctx context.Context) error {
	return s.do(ctx, s.tracks.SwitchFacing)
}

func (s *CallSession) StartScreenShare(ctx context.Context) error {
	return s.do(ctx, s.tracks.StartScreenShare)
}

func (s *CallSession) StopScreenShare(ctx context.Context) error {
	return s.do(ctx, s.tracks.StopScreenShare)
}

func (s *CallSession) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CallSession) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Err is the reason the call failed, nil otherwise.
func (s *CallSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the call is over and its resources are released.
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

func (s *CallSession) Tracks() *TrackController {
	return s.tracks
}
