package pion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

const (
	videoFrameInterval = 33 * time.Millisecond
	audioFrameInterval = 20 * time.Millisecond
)

var (
	// VP8 keyframe header followed by filler; nobody decodes it.
	syntheticVP8 = append([]byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01}, make([]byte, 300)...)
	// Opus silence frame.
	syntheticOpus = []byte{0xf8, 0xff, 0xfe}
)

// Devices hands out generated capture tracks in place of real hardware.
type Devices struct {
	// ScreenDuration, when set, ends every screen share by itself after
	// that long, as if the user dismissed it from the browser chrome.
	ScreenDuration time.Duration

	logger zerolog.Logger
}

func NewDevices(logger zerolog.Logger) *Devices {
	return &Devices{logger: logger.With().Str("component", "devices").Logger()}
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) ([]port.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: neither audio nor video requested", domain.ErrMediaAccessDenied)
	}

	var tracks []port.LocalTrack
	if c.Audio {
		t, err := newTrack(domain.KindAudio, domain.SourceMicrophone, "microphone", d.logger)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := d.GetCamera(ctx, c.Facing)
		if err != nil {
			for _, t := range tracks {
				t.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (d *Devices) GetCamera(ctx context.Context, facing domain.FacingMode) (port.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if facing == "" {
		facing = domain.FacingUser
	}
	return newTrack(domain.KindVideo, domain.SourceCamera, "camera-"+string(facing), d.logger)
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (port.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := newTrack(domain.KindVideo, domain.SourceScreen, "screen", d.logger)
	if err != nil {
		return nil, err
	}
	if d.ScreenDuration > 0 {
		time.AfterFunc(d.ScreenDuration, t.Stop)
	}
	return t, nil
}

// Track is a generated capture track backed by a pion sample track.
type Track struct {
	local  *webrtc.TrackLocalStaticSample
	kind   domain.TrackKind
	source domain.Source

	enabled  atomic.Bool
	ended    chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

func newTrack(kind domain.TrackKind, source domain.Source, stream string, logger zerolog.Logger) (*Track, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == domain.KindAudio {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}

	id := string(kind) + "-" + uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, "yacall-"+stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceAcquisitionFailed, err)
	}

	t := &Track{
		local:  local,
		kind:   kind,
		source: source,
		ended:  make(chan struct{}),
		logger: logger.With().Str("track", id).Logger(),
	}
	t.enabled.Store(true)
	go t.generate()
	return t, nil
}

func (t *Track) ID() string                    { return t.local.ID() }
func (t *Track) Kind() domain.TrackKind        { return t.kind }
func (t *Track) Source() domain.Source         { return t.source }
func (t *Track) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *Track) Enabled() bool                 { return t.enabled.Load() }
func (t *Track) Ended() <-chan struct{}        { return t.ended }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		close(t.ended)
		t.logger.Debug().Msg("Track stopped")
	})
}

// generate writes samples until the track is stopped. A disabled track
// keeps its clock running but sends nothing, like a muted browser track
// sending no meaningful frames.
func (t *Track) generate() {
	interval, payload := videoFrameInterval, syntheticVP8
	if t.kind == domain.KindAudio {
		interval, payload = audioFrameInterval, syntheticOpus
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ended:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			// an unbound track drops samples
			t.local.WriteSample(media.Sample{Data: payload, Duration: interval})
		}
	}
}
