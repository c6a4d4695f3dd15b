// Command nitrogend is the Nitrogen capture daemon: it negotiates a
// portal session, drives the encode/transform pipeline, and exposes
// status/stats/stop over a local control socket.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/control"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/orchestrator"
	"github.com/ghostkellz/nitrogen/internal/sinks"
	"github.com/ghostkellz/nitrogen/internal/transform"
	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/rs/zerolog"
)

var (
	flagSource      = flag.String("source", "portal", `capture source: "portal" or a compositor-opaque monitor/window id`)
	flagWindow      = flag.Bool("window", false, "treat --source as a window id instead of a monitor id")
	flagRecord      = flag.String("record", "", "file path to additionally record to (empty disables recording)")
	flagCamera      = flag.String("camera-device", "", "v4l2loopback device to publish as a virtual camera (empty disables it)")
	flagMic         = flag.String("mic-device", "", "PulseAudio sink to publish mixed audio to as a virtual microphone (empty disables it)")
	flagStreamURL   = flag.String("stream-url", "", "rtmp(s):// or srt:// URL to additionally stream to (empty disables it)")
	flagWebRTC      = flag.Bool("webrtc", false, "enable the WebRTC viewer sink")
	flagWebRTCAddr  = flag.String("webrtc-addr", ":8088", "HTTP listen address for the WebRTC signaling server")
	flagICEServers  = flag.String("ice-servers", "", "comma-separated STUN/TURN URLs (empty uses the built-in default)")
	flagLogLevel    = flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flagJournald    = flag.Bool("journald", false, "write structured logs for journald instead of a console writer")
	flagSocket      = flag.String("socket", "", "control socket path (empty uses the spec default)")
)

func main() {
	flag.Parse()
	logging.Init(*flagLogLevel, *flagJournald)
	log := logging.For("nitrogend")

	file, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	source := types.CaptureSource{Kind: types.SourceMonitor, ID: *flagSource}
	if *flagWindow {
		source.Kind = types.SourceWindow
	}

	cfg, err := config.Resolve(file, source)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve configuration")
	}
	cfg.RecordPath = *flagRecord
	cfg.CameraDevice = *flagCamera
	cfg.MicDevice = *flagMic
	cfg.StreamURL = *flagStreamURL
	cfg.WebRTCEnabled = *flagWebRTC
	if *flagICEServers != "" {
		cfg.ICEServers = strings.Split(*flagICEServers, ",")
	}
	// Tonemap/frame-gen/overlay have no TOML section (spec §6 doesn't
	// list one); default them here rather than leaving the zero value.
	cfg.Tonemap = transform.DefaultConfig()
	cfg.FrameGen = transform.DefaultFrameGenConfig()
	cfg.Overlay = transform.DefaultOverlayConfig()

	if err := cfg.ValidateStrict(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	for _, warning := range cfg.Validate() {
		log.Warn().Msg(warning)
	}

	pipeline := orchestrator.New(cfg)
	if err := pipeline.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start pipeline")
	}

	socketPath := *flagSocket
	if socketPath == "" {
		socketPath = control.SocketPath()
	}
	server, err := control.NewServer(socketPath, pipeline)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start control server")
	}
	go func() {
		if err := server.Serve(); err != nil {
			log.Warn().Err(err).Msg("control server stopped")
		}
	}()

	var webrtcHTTP *http.Server
	if cfg.WebRTCEnabled {
		webrtcHTTP = &http.Server{Addr: *flagWebRTCAddr}
		go serveWebRTCWhenReady(pipeline, webrtcHTTP, log)
	}

	log.Info().
		Str("source", fmt.Sprintf("%v:%s", source.Kind, source.ID)).
		Str("preset", cfg.Preset.String()).
		Str("codec", cfg.Codec.String()).
		Str("socket", socketPath).
		Msg("nitrogend started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	pipeline.Stop()
	server.Close()
	if webrtcHTTP != nil {
		webrtcHTTP.Close()
	}
}

// serveWebRTCWhenReady waits for negotiateSession to have built the
// WebRTC sink (it isn't available until the portal handshake and
// encoder setup finish) before attaching the signaling handler and
// starting the listener.
func serveWebRTCWhenReady(p *orchestrator.Pipeline, srv *http.Server, log zerolog.Logger) {
	for i := 0; i < 300; i++ {
		if rt := p.WebRTC(); rt != nil {
			srv.Handler = sinks.NewWebRTCServer(rt).Handler()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("webrtc signaling server stopped")
			}
			return
		}
		if p.State().IsTerminal() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Warn().Msg("webrtc sink never became ready; signaling server not started")
}
