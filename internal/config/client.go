package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const (
	envVarRelayURL      = "CALL_RELAY_URL"
	envVarSession       = "CALL_SESSION"
	envVarParticipantID = "CALL_PARTICIPANT_ID"
	envVarRole          = "CALL_ROLE"
	envVarMediaSource   = "CALL_MEDIA_SOURCE"
	envVarCameraIVF     = "CALL_CAMERA_IVF"
	envVarMicrophoneOgg = "CALL_MICROPHONE_OGG"
	envVarScreenIVF     = "CALL_SCREEN_IVF"
	envVarRecordPath    = "CALL_RECORD_PATH"

	DefaultRelayURL       = "ws://127.0.0.1:8080/signal"
	DefaultConnectTimeout = 10 * time.Second
)

type Role string

const (
	// RoleOffer announces itself and sends the first offer.
	RoleOffer Role = "offer"
	// RoleAnswer waits for the remote offer.
	RoleAnswer Role = "answer"
)

type MediaSource string

const (
	MediaSynthetic MediaSource = "synthetic"
	MediaFile      MediaSource = "file"
)

// ClientConfig configures the headless call client.
type ClientConfig struct {
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	RelayURL      string
	Session       string
	ParticipantID string
	Role          Role

	ICEServers     []webrtc.ICEServer
	ConnectTimeout time.Duration

	MediaSource   MediaSource
	CameraIVF     string
	MicrophoneOgg string
	ScreenIVF     string

	// ScreenShareAfter starts a screen share that long after connecting
	// (0 = never); ScreenShareFor stops it again (0 = until the source ends).
	ScreenShareAfter time.Duration
	ScreenShareFor   time.Duration

	// RecordPath, when set, receives the main presenter recording on exit.
	RecordPath string
	// Duration hangs up after this long (0 = until interrupted).
	Duration time.Duration
}

// SignalURL is RelayURL with the session query parameter applied.
func (c ClientConfig) SignalURL() string {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return c.RelayURL
	}
	q := u.Query()
	q.Set("session", c.Session)
	u.RawQuery = q.Encode()
	return u.String()
}

func LoadClient(args []string) (ClientConfig, error) {
	return loadClient(os.LookupEnv, args)
}

func loadClient(lookup func(string) (string, bool), args []string) (ClientConfig, error) {
	relayURL := envOrDefault(lookup, envVarRelayURL, DefaultRelayURL)
	session := envOrDefault(lookup, envVarSession, DefaultSession)
	participantID := envOrDefault(lookup, envVarParticipantID, "")
	roleStr := envOrDefault(lookup, envVarRole, string(RoleAnswer))
	mediaSourceStr := envOrDefault(lookup, envVarMediaSource, string(MediaSynthetic))
	cameraIVF := envOrDefault(lookup, envVarCameraIVF, "")
	microphoneOgg := envOrDefault(lookup, envVarMicrophoneOgg, "")
	screenIVF := envOrDefault(lookup, envVarScreenIVF, "")
	recordPath := envOrDefault(lookup, envVarRecordPath, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, DefaultSTUNURL)

	var (
		connectTimeout   = DefaultConnectTimeout
		screenShareAfter time.Duration
		screenShareFor   time.Duration
		duration         time.Duration
	)

	fs := flag.NewFlagSet("call-client", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	logging := registerLoggingFlags(fs, lookup)
	fs.StringVar(&relayURL, "relay-url", relayURL, "Relay signaling WebSocket URL (env "+envVarRelayURL+")")
	fs.StringVar(&session, "session", session, "Session to join (env "+envVarSession+")")
	fs.StringVar(&participantID, "participant-id", participantID, "Participant id used for glare resolution (default: random; env "+envVarParticipantID+")")
	fs.StringVar(&roleStr, "role", roleStr, "offer or answer (env "+envVarRole+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.DurationVar(&connectTimeout, "connect-timeout", connectTimeout, "Relay dial timeout")

	fs.StringVar(&mediaSourceStr, "media", mediaSourceStr, "Capture source: synthetic or file (env "+envVarMediaSource+")")
	fs.StringVar(&cameraIVF, "camera-ivf", cameraIVF, "IVF file used as the camera with --media=file (env "+envVarCameraIVF+")")
	fs.StringVar(&microphoneOgg, "microphone-ogg", microphoneOgg, "Ogg/Opus file used as the microphone with --media=file (env "+envVarMicrophoneOgg+")")
	fs.StringVar(&screenIVF, "screen-ivf", screenIVF, "IVF file used as the screen with --media=file (env "+envVarScreenIVF+")")
	fs.DurationVar(&screenShareAfter, "screen-share-after", screenShareAfter, "Start screen sharing this long after connecting (0 = never)")
	fs.DurationVar(&screenShareFor, "screen-share-for", screenShareFor, "Stop screen sharing after this long (0 = until the source ends)")

	fs.StringVar(&recordPath, "record", recordPath, "Write the main presenter recording to this path on exit (env "+envVarRecordPath+")")
	fs.DurationVar(&duration, "duration", duration, "Hang up after this long (0 = until interrupted)")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	mode, logFormat, logLevel, err := logging.resolve(fs)
	if err != nil {
		return ClientConfig{}, err
	}

	role, err := parseRole(roleStr)
	if err != nil {
		return ClientConfig{}, err
	}
	mediaSource, err := parseMediaSource(mediaSourceStr)
	if err != nil {
		return ClientConfig{}, err
	}
	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs)
	if err != nil {
		return ClientConfig{}, err
	}

	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		participantID = uuid.NewString()
	}

	cfg := ClientConfig{
		Mode:             mode,
		LogFormat:        logFormat,
		LogLevel:         logLevel,
		RelayURL:         strings.TrimSpace(relayURL),
		Session:          strings.TrimSpace(session),
		ParticipantID:    participantID,
		Role:             role,
		ICEServers:       iceServers,
		ConnectTimeout:   connectTimeout,
		MediaSource:      mediaSource,
		CameraIVF:        strings.TrimSpace(cameraIVF),
		MicrophoneOgg:    strings.TrimSpace(microphoneOgg),
		ScreenIVF:        strings.TrimSpace(screenIVF),
		ScreenShareAfter: screenShareAfter,
		ScreenShareFor:   screenShareFor,
		RecordPath:       strings.TrimSpace(recordPath),
		Duration:         duration,
	}
	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay url %q: %w", c.RelayURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay url %q (expected ws:// or wss://)", c.RelayURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid relay url %q (missing host)", c.RelayURL)
	}
	if c.Session == "" {
		return errors.New("session must not be empty")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("--connect-timeout must be > 0 (got %s)", c.ConnectTimeout)
	}
	if c.ScreenShareAfter < 0 || c.ScreenShareFor < 0 || c.Duration < 0 {
		return errors.New("durations must not be negative")
	}
	if c.MediaSource == MediaFile && c.CameraIVF == "" && c.MicrophoneOgg == "" {
		return errors.New("--media=file requires --camera-ivf and/or --microphone-ogg")
	}
	if c.ScreenShareAfter > 0 && c.MediaSource == MediaFile && c.ScreenIVF == "" {
		return errors.New("--screen-share-after with --media=file requires --screen-ivf")
	}
	return nil
}

func parseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleOffer):
		return RoleOffer, nil
	case string(RoleAnswer), "":
		return RoleAnswer, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarRole, raw, RoleOffer, RoleAnswer)
	}
}

func parseMediaSource(raw string) (MediaSource, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(MediaSynthetic), "":
		return MediaSynthetic, nil
	case string(MediaFile):
		return MediaFile, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarMediaSource, raw, MediaSynthetic, MediaFile)
	}
}
