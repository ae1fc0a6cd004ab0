package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var errForeignTrack = errors.New("track was not produced by pion devices")

// RemoteSink receives the media of the remote participant, the headless
// stand-in for a video element.
type RemoteSink interface {
	WriteRTP(kind domain.TrackKind, pkt *rtp.Packet)
}

type Config struct {
	STUNURLs []string
	Sink     RemoteSink
	// Loopback gathers 127.0.0.1 candidates, for calls within one host.
	Loopback bool
}

// Factory builds peer connections sharing one pion API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	sink   RemoteSink
	logger zerolog.Logger
}

func NewFactory(cfg Config, logger zerolog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(responder)
	i.Add(generator)
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack"}, webrtc.RTPCodecTypeVideo)
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack", Parameter: "pli"}, webrtc.RTPCodecTypeVideo)
	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger)}
	if cfg.Loopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)

	var servers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}

	return &Factory{
		api:    api,
		config: webrtc.Configuration{ICEServers: servers},
		sink:   cfg.Sink,
		logger: logger.With().Str("component", "transport").Logger(),
	}, nil
}

func (f *Factory) NewPeerConnection(onEvent func(domain.TransportEvent)) (port.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &PeerConnection{
		pc:      pc,
		onEvent: onEvent,
		sink:    f.sink,
		logger:  f.logger,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			p.logger.Debug().Msg("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		p.emit(domain.TransportEvent{
			Type: domain.EventLocalCandidate,
			Candidate: domain.ICECandidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			},
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Debug().Str("state", s.String()).Msg("Peer connection state changed")
		if s == webrtc.PeerConnectionStateFailed {
			p.emit(domain.TransportEvent{Type: domain.EventTransportFailed, Err: domain.ErrConnectivityFailed})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.KindVideo
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = domain.KindAudio
		}
		p.logger.Debug().Str("kind", string(kind)).Str("codec", track.Codec().MimeType).Msg("Received remote track")
		go p.readRemote(track, kind)
	})

	return p, nil
}

// PeerConnection adapts a pion peer connection to the session's transport.
type PeerConnection struct {
	pc      *webrtc.PeerConnection
	onEvent func(domain.TransportEvent)
	sink    RemoteSink
	closed  atomic.Bool
	logger  zerolog.Logger
}

func (p *PeerConnection) emit(ev domain.TransportEvent) {
	if !p.closed.Load() && p.onEvent != nil {
		p.onEvent(ev)
	}
}

func (p *PeerConnection) readRemote(track *webrtc.TrackRemote, kind domain.TrackKind) {
	first := true
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if first {
			first = false
			p.emit(domain.TransportEvent{Type: domain.EventRemoteMedia, Kind: kind})
		}
		if p.sink != nil {
			p.sink.WriteRTP(kind, pkt)
		}
	}
}

func (p *PeerConnection) AddTrack(t port.LocalTrack) (port.TrackSender, error) {
	local, err := pionTrack(t)
	if err != nil {
		return nil, err
	}
	sender, err := p.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return &Sender{sender: sender, track: t}, nil
}

func (p *PeerConnection) CreateOffer(ctx context.Context) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.Signal{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.NewOffer(offer.SDP), nil
}

func (p *PeerConnection) CreateAnswer(ctx context.Context) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.Signal{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.NewAnswer(answer.SDP), nil
}

func (p *PeerConnection) SetRemoteDescription(sig domain.Signal) error {
	var typ webrtc.SDPType
	switch sig.Type {
	case domain.SignalOffer:
		typ = webrtc.SDPTypeOffer
	case domain.SignalAnswer:
		typ = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("%w: %s is not a description", domain.ErrMalformedMessage, sig.Type)
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sig.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *PeerConnection) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *PeerConnection) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.pc.Close()
}

// Sender swaps the track behind a pion RTP sender without renegotiating.
type Sender struct {
	sender *webrtc.RTPSender

	mu    sync.Mutex
	track port.LocalTrack
}

func (s *Sender) ReplaceTrack(t port.LocalTrack) error {
	local, err := pionTrack(t)
	if err != nil {
		return err
	}
	if err := s.sender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

func (s *Sender) Track() port.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func pionTrack(t port.LocalTrack) (webrtc.TrackLocal, error) {
	pt, ok := t.(interface{ TrackLocal() webrtc.TrackLocal })
	if !ok {
		return nil, fmt.Errorf("%w: %s", errForeignTrack, t.ID())
	}
	return pt.TrackLocal(), nil
}

// PacketCounter is a RemoteSink that only counts what arrives.
type PacketCounter struct {
	mu      sync.Mutex
	packets map[domain.TrackKind]int
	bytes   map[domain.TrackKind]int
}

func NewPacketCounter() *PacketCounter {
	return &PacketCounter{
		packets: make(map[domain.TrackKind]int),
		bytes:   make(map[domain.TrackKind]int),
	}
}

func (c *PacketCounter) WriteRTP(kind domain.TrackKind, pkt *rtp.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets[kind]++
	c.bytes[kind] += len(pkt.Payload)
}

func (c *PacketCounter) Packets(kind domain.TrackKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packets[kind]
}

func (c *PacketCounter) Bytes(kind domain.TrackKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes[kind]
}
