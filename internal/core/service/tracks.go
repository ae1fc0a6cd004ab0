package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
)

// TrackController owns the local capture tracks of a call. Exactly one
// outgoing video track exists once media is attached; switching its source
// swaps the track on the transport sender without renegotiation.
type TrackController struct {
	devices port.MediaDevices
	logger  zerolog.Logger

	mu            sync.Mutex
	audio         port.LocalTrack
	video         port.LocalTrack
	videoSender   port.TrackSender
	facing        domain.FacingMode
	audioEnabled  bool
	videoEnabled  bool
	substituting  bool
	closed        bool
	onScreenEnded func()

	watchers sync.WaitGroup
	done     chan struct{}
}

func NewTrackController(devices port.MediaDevices, facing domain.FacingMode, logger zerolog.Logger) *TrackController {
	if facing == "" {
		facing = domain.FacingUser
	}
	return &TrackController{
		devices:      devices,
		facing:       facing,
		audioEnabled: true,
		videoEnabled: true,
		done:         make(chan struct{}),
		logger:       logger.With().Str("component", "tracks").Logger(),
	}
}

// OnScreenShareEnded registers fn to run when the active screen share ends
// by itself. fn runs on a watcher goroutine.
func (c *TrackController) OnScreenShareEnded(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onScreenEnded = fn
}

// Acquire opens the microphone and the camera.
func (c *TrackController) Acquire(ctx context.Context) error {
	c.mu.Lock()
	facing := c.facing
	c.mu.Unlock()

	tracks, err := c.devices.GetUserMedia(ctx, domain.MediaConstraints{Audio: true, Video: true, Facing: facing})
	if err != nil {
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrMediaAccessDenied, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		stopAll(tracks)
		return domain.ErrInvalidState
	}
	for _, t := range tracks {
		switch t.Kind() {
		case domain.KindAudio:
			c.audio = t
		case domain.KindVideo:
			c.video = t
		}
	}
	if c.audio == nil || c.video == nil {
		stopAll(tracks)
		c.audio, c.video = nil, nil
		return fmt.Errorf("%w: got %d of 2 tracks", domain.ErrMediaAccessDenied, len(tracks))
	}
	return nil
}

// Attach adds the acquired tracks to pc.
func (c *TrackController) Attach(pc port.PeerConnection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.video == nil {
		return domain.ErrInvalidState
	}
	if _, err := pc.AddTrack(c.audio); err != nil {
		return err
	}
	sender, err := pc.AddTrack(c.video)
	if err != nil {
		return err
	}
	c.videoSender = sender
	return nil
}

func (c *TrackController) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = enabled
	if c.audio != nil && !c.closed {
		c.audio.SetEnabled(enabled)
	}
}

func (c *TrackController) SetVideoEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnabled = enabled
	if c.video != nil && !c.closed {
		c.video.SetEnabled(enabled)
	}
}

// SubstituteVideoSource replaces the outgoing video with a fresh track from
// source. On failure the previous track stays in place and keeps sending.
func (c *TrackController) SubstituteVideoSource(ctx context.Context, source domain.Source) error {
	c.mu.Lock()
	facing := c.facing
	c.mu.Unlock()
	return c.substitute(ctx, source, facing)
}

// SwitchFacing flips the camera between user and environment. While a
// screen share is active only the preference changes.
func (c *TrackController) SwitchFacing(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	next := c.facing.Flip()
	if c.activeSourceLocked() == domain.SourceScreen {
		c.facing = next
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.substitute(ctx, domain.SourceCamera, next); err != nil {
		return err
	}
	c.mu.Lock()
	c.facing = next
	c.mu.Unlock()
	return nil
}

func (c *TrackController) StartScreenShare(ctx context.Context) error {
	if c.ActiveSource() == domain.SourceScreen {
		return nil
	}
	return c.SubstituteVideoSource(ctx, domain.SourceScreen)
}

// StopScreenShare goes back to the camera at the current facing.
func (c *TrackController) StopScreenShare(ctx context.Context) error {
	if c.ActiveSource() != domain.SourceScreen {
		return nil
	}
	return c.SubstituteVideoSource(ctx, domain.SourceCamera)
}

func (c *TrackController) substitute(ctx context.Context, source domain.Source, facing domain.FacingMode) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil
	case c.substituting:
		c.mu.Unlock()
		return domain.ErrSubstitutionInProgress
	case c.videoSender == nil:
		c.mu.Unlock()
		return fmt.Errorf("%w: no video sender", domain.ErrInvalidState)
	}
	c.substituting = true
	sender := c.videoSender
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.substituting = false
		c.mu.Unlock()
	}()

	var next port.LocalTrack
	var err error
	if source == domain.SourceScreen {
		next, err = c.devices.GetDisplayMedia(ctx)
	} else {
		next, err = c.devices.GetCamera(ctx, facing)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrDeviceAcquisitionFailed, source, err)
	}

	c.mu.Lock()
	next.SetEnabled(c.videoEnabled)
	c.mu.Unlock()

	if err := sender.ReplaceTrack(next); err != nil {
		next.Stop()
		return fmt.Errorf("replace %s track: %w", source, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		next.Stop()
		return nil
	}
	prev := c.video
	c.video = next
	if source == domain.SourceScreen {
		c.watchLocked(next)
	}
	c.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	c.logger.Debug().Str("source", string(source)).Str("track", next.ID()).Msg("Video source substituted")
	return nil
}

// watchLocked waits for a screen track to end by itself. c.mu must be held.
func (c *TrackController) watchLocked(t port.LocalTrack) {
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		select {
		case <-t.Ended():
		case <-c.done:
			return
		}

		c.mu.Lock()
		// replaced or stopped by us, not ended by the user
		current := c.video == t && !c.closed
		fn := c.onScreenEnded
		c.mu.Unlock()
		if current && fn != nil {
			c.logger.Info().Str("track", t.ID()).Msg("Screen share ended")
			fn()
		}
	}()
}

func (c *TrackController) OutgoingVideo() port.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

func (c *TrackController) ActiveSource() domain.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSourceLocked()
}

func (c *TrackController) activeSourceLocked() domain.Source {
	if c.video == nil {
		return ""
	}
	return c.video.Source()
}

func (c *TrackController) Facing() domain.FacingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

func (c *TrackController) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

func (c *TrackController) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoEnabled
}

// Close stops every track and waits for the screen watchers.
func (c *TrackController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	audio, video := c.audio, c.video
	c.mu.Unlock()

	if audio != nil {
		audio.Stop()
	}
	if video != nil {
		video.Stop()
	}
	c.watchers.Wait()
}

func stopAll(tracks []port.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}
