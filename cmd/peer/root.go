package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/codec"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type peerOptions struct {
	url        string
	room       string
	user       string
	facing     string
	codec      string
	shareAfter time.Duration
	shareFor   time.Duration
	duration   time.Duration
	loopback   bool
}

var opts peerOptions

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Headless call participant with synthetic camera, microphone and screen",
	Long: `peer joins a room on a yacall relay and runs one side of a two-party call
with generated media. Run two of them against the same room to exercise the
whole negotiation, including a screen share and its automatic end.`,
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.url, "url", "", "relay websocket URL (default $YACALL_SIGNAL_URL)")
	f.StringVarP(&opts.room, "room", "r", "", "room (appointment) id")
	f.StringVarP(&opts.user, "user", "u", "", "user id")
	f.StringVar(&opts.facing, "facing", string(domain.FacingUser), "initial camera facing: user or environment")
	f.StringVar(&opts.codec, "codec", "json", "signaling encoding: json or msgpack")
	f.DurationVar(&opts.shareAfter, "share-after", 0, "start a screen share this long after connecting (0 = never)")
	f.DurationVar(&opts.shareFor, "share-for", 0, "end the screen share by itself after this long (0 = keep sharing)")
	f.DurationVar(&opts.duration, "duration", 0, "end the call after this long (0 = until interrupted)")
	f.BoolVar(&opts.loopback, "loopback", false, "gather loopback candidates, for two peers on one host")
	rootCmd.MarkFlagRequired("room")
	rootCmd.MarkFlagRequired("user")
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type logObserver struct {
	logger zerolog.Logger
}

func (o logObserver) OnStateChange(state domain.CallState, err error) {
	o.logger.Info().Err(err).Str("state", string(state)).Msg("Call state changed")
}

func (o logObserver) OnError(err error) {
	o.logger.Warn().Err(err).Msg("Call error")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	l := config.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	facing := domain.FacingMode(opts.facing)
	if facing != domain.FacingUser && facing != domain.FacingEnvironment {
		return fmt.Errorf("--facing must be user or environment, got %q", opts.facing)
	}
	url := opts.url
	if url == "" {
		url = cfg.SignalURL
	}
	var c port.Codec
	switch opts.codec {
	case "json":
		c = codec.JSON{}
	case "msgpack":
		c = codec.Msgpack{}
	default:
		return fmt.Errorf("--codec must be json or msgpack, got %q", opts.codec)
	}

	sink := pion.NewPacketCounter()
	transports, err := pion.NewFactory(pion.Config{STUNURLs: cfg.STUNURLs, Sink: sink, Loopback: opts.loopback}, l)
	if err != nil {
		return err
	}
	devices := pion.NewDevices(l)
	devices.ScreenDuration = opts.shareFor

	session := service.NewCallSession(
		service.CallConfig{Room: domain.RoomID(opts.room), User: domain.UserID(opts.user), Facing: facing},
		service.CallDeps{
			Devices:    devices,
			Transports: transports,
			Signaling:  ws.NewDialer(url, c, l),
		},
		logObserver{logger: l},
		l,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.End()

	var deadline <-chan time.Time
	if opts.duration > 0 {
		deadline = time.After(opts.duration)
	}
	var share <-chan time.Time
	stats := time.NewTicker(5 * time.Second)
	defer stats.Stop()
	shared := false

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("Interrupted, leaving call")
			return nil

		case <-deadline:
			l.Info().Msg("Duration reached, leaving call")
			return nil

		case <-session.Done():
			if err := session.Err(); err != nil && !errors.Is(err, domain.ErrPeerLeft) {
				return err
			}
			return nil

		case <-stats.C:
			l.Info().
				Str("state", string(session.State())).
				Str("video_source", string(session.Tracks().ActiveSource())).
				Int("video_packets", sink.Packets(domain.KindVideo)).
				Int("audio_packets", sink.Packets(domain.KindAudio)).
				Msg("Call stats")
			if !shared && opts.shareAfter > 0 && share == nil && session.State() == domain.StateConnected {
				share = time.After(opts.shareAfter)
			}

		case <-share:
			shared = true
			share = nil
			if err := session.StartScreenShare(ctx); err != nil {
				l.Warn().Err(err).Msg("Screen share failed")
			}
		}
	}
}
