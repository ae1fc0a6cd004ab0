package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

var errNoRemoteDescription = errors.New("no remote description")

type fakeTrack struct {
	id     string
	kind   domain.TrackKind
	source domain.Source
	facing domain.FacingMode

	mu      sync.Mutex
	enabled bool
	ended   chan struct{}
	once    sync.Once
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }
func (t *fakeTrack) Source() domain.Source  { return t.source }
func (t *fakeTrack) Ended() <-chan struct{} { return t.ended }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() { t.once.Do(func() { close(t.ended) }) }

func (t *fakeTrack) Stopped() bool {
	select {
	case <-t.ended:
		return true
	default:
		return false
	}
}

type fakeDevices struct {
	mu           sync.Mutex
	userMediaErr error
	cameraErr    error
	screenErr    error
	// when set, GetDisplayMedia signals entered and waits for release
	entered chan struct{}
	release chan struct{}
	issued  []*fakeTrack
}

func (d *fakeDevices) newTrack(kind domain.TrackKind, source domain.Source, facing domain.FacingMode) *fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTrack{
		id:      fmt.Sprintf("%s-%d", source, len(d.issued)),
		kind:    kind,
		source:  source,
		facing:  facing,
		enabled: true,
		ended:   make(chan struct{}),
	}
	d.issued = append(d.issued, t)
	return t
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) ([]port.LocalTrack, error) {
	d.mu.Lock()
	err := d.userMediaErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []port.LocalTrack{
		d.newTrack(domain.KindAudio, domain.SourceMicrophone, ""),
		d.newTrack(domain.KindVideo, domain.SourceCamera, c.Facing),
	}, nil
}

func (d *fakeDevices) GetCamera(ctx context.Context, facing domain.FacingMode) (port.LocalTrack, error) {
	d.mu.Lock()
	err := d.cameraErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.newTrack(domain.KindVideo, domain.SourceCamera, facing), nil
}

func (d *fakeDevices) GetDisplayMedia(ctx context.Context) (port.LocalTrack, error) {
	d.mu.Lock()
	err, entered, release := d.screenErr, d.entered, d.release
	d.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return d.newTrack(domain.KindVideo, domain.SourceScreen, ""), nil
}

// liveVideo returns the video tracks that have not been stopped.
func (d *fakeDevices) liveVideo() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	var live []*fakeTrack
	for _, t := range d.issued {
		if t.kind == domain.KindVideo && !t.Stopped() {
			live = append(live, t)
		}
	}
	return live
}

func (d *fakeDevices) all() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTrack(nil), d.issued...)
}

type fakeSender struct {
	mu         sync.Mutex
	track      port.LocalTrack
	replaceErr error
}

func (s *fakeSender) ReplaceTrack(t port.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.track = t
	return nil
}

func (s *fakeSender) Track() port.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakePC struct {
	onEvent func(domain.TransportEvent)

	mu         sync.Mutex
	senders    []*fakeSender
	offers     int
	answers    int
	remote     []domain.Signal
	candidates []domain.ICECandidate
	earlyCands int
	closed     bool
}

func (p *fakePC) AddTrack(t port.LocalTrack) (port.TrackSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePC) CreateOffer(ctx context.Context) (domain.Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return domain.NewOffer(fmt.Sprintf("offer-%d", p.offers)), nil
}

func (p *fakePC) CreateAnswer(ctx context.Context) (domain.Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		return domain.Signal{}, errNoRemoteDescription
	}
	p.answers++
	return domain.NewAnswer(fmt.Sprintf("answer-%d", p.answers)), nil
}

func (p *fakePC) SetRemoteDescription(sig domain.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, sig)
	return nil
}

func (p *fakePC) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		p.earlyCands++
		return errNoRemoteDescription
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) emit(ev domain.TransportEvent) { p.onEvent(ev) }

func (p *fakePC) counts() (offers, answers, candidates int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, p.answers, len(p.candidates)
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePC) videoSender() *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.senders {
		if s.Track().Kind() == domain.KindVideo {
			return s
		}
	}
	return nil
}

type fakeTransports struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (f *fakeTransports) NewPeerConnection(onEvent func(domain.TransportEvent)) (port.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{onEvent: onEvent}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeTransports) last() *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pcs) == 0 {
		return nil
	}
	return f.pcs[len(f.pcs)-1]
}

type fakeSignaling struct {
	events chan domain.Message

	mu     sync.Mutex
	sent   []domain.Message
	closed bool
	once   sync.Once
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{events: make(chan domain.Message, 64)}
}

func (f *fakeSignaling) Dial(ctx context.Context) (port.SignalingChannel, error) {
	return f, nil
}

func (f *fakeSignaling) Send(ctx context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return domain.ErrSignalingDisconnected
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaling) Events() <-chan domain.Message { return f.events }

func (f *fakeSignaling) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// drop simulates the relay going away.
func (f *fakeSignaling) drop() { f.once.Do(func() { close(f.events) }) }

func (f *fakeSignaling) push(msg domain.Message) { f.events <- msg }

func (f *fakeSignaling) sentOf(typ domain.MessageType, sig domain.SignalType) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.sent {
		if m.Type != typ {
			continue
		}
		if sig != "" && (m.Signal == nil || m.Signal.Type != sig) {
			continue
		}
		out = append(out, m)
	}
	return out
}

type recordingObserver struct {
	mu     sync.Mutex
	states []domain.CallState
	errs   []error
}

func (o *recordingObserver) OnStateChange(state domain.CallState, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) seen() ([]domain.CallState, []error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.CallState(nil), o.states...), append([]error(nil), o.errs...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
