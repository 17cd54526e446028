package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/origin"
)

const (
	envVarListenAddr      = "CALL_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "CALL_LOG_FORMAT"
	envVarLogLevel        = "CALL_LOG_LEVEL"
	envVarMode            = "CALL_MODE"
	envVarShutdownTimeout = "CALL_RELAY_SHUTDOWN_TIMEOUT"

	// Session fan-out and capacity.
	envVarMaxConnections            = "MAX_CONNECTIONS"
	envVarMaxParticipantsPerSession = "MAX_PARTICIPANTS_PER_SESSION"
	envVarDefaultSession            = "DEFAULT_SESSION"
	envVarNotifyPeerLeft            = "NOTIFY_PEER_LEFT"

	// WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueBytes                = "SIGNALING_SEND_QUEUE_BYTES"

	// Presence registry.
	envVarPresenceBackend = "PRESENCE_BACKEND"
	envVarPresenceTTL     = "PRESENCE_TTL"
	envVarRedisAddr       = "REDIS_ADDR"
	envVarRedisPassword   = "REDIS_PASSWORD"
	envVarRedisDB         = "REDIS_DB"

	DefaultListenAddr                    = "127.0.0.1:8080"
	DefaultShutdown                      = 15 * time.Second
	DefaultMode                     Mode = ModeDev
	DefaultMaxParticipantsPerSession     = 2
	DefaultSession                       = "lobby"

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueBytes                = 1 << 20 // 1MiB

	DefaultPresenceBackend = PresenceMemory
	DefaultPresenceTTL     = 24 * time.Hour
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type PresenceBackend string

const (
	PresenceMemory PresenceBackend = "memory"
	PresenceRedis  PresenceBackend = "redis"
)

// Config configures the call relay.
type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// ICEServers is served to browser clients from GET /webrtc/ice.
	ICEServers []webrtc.ICEServer

	// MaxConnections bounds concurrently open signaling sockets (0 = unlimited).
	MaxConnections int
	// MaxParticipantsPerSession rejects the next participant once a session
	// is full (0 = unlimited).
	MaxParticipantsPerSession int
	// DefaultSession is used for connections that omit ?session=.
	DefaultSession string
	// NotifyPeerLeft makes the relay emit {"type":"peer-left"} when a
	// participant disconnects.
	NotifyPeerLeft bool

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueBytes                int

	PresenceBackend PresenceBackend
	PresenceTTL     time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
}

func LoadRelay(args []string) (Config, error) {
	return loadRelay(os.LookupEnv, args)
}

func loadRelay(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, DefaultSTUNURL)
	defaultSession := envOrDefault(lookup, envVarDefaultSession, DefaultSession)
	presenceBackendStr := envOrDefault(lookup, envVarPresenceBackend, string(DefaultPresenceBackend))
	redisAddr := envOrDefault(lookup, envVarRedisAddr, "")
	redisPassword := envOrDefault(lookup, envVarRedisPassword, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	presenceTTL, err := envDurationOrDefault(lookup, envVarPresenceTTL, DefaultPresenceTTL)
	if err != nil {
		return Config{}, err
	}
	maxConnections, err := envIntOrDefault(lookup, envVarMaxConnections, 0)
	if err != nil {
		return Config{}, err
	}
	maxParticipants, err := envIntOrDefault(lookup, envVarMaxParticipantsPerSession, DefaultMaxParticipantsPerSession)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSendQueueBytes, DefaultSendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	notifyPeerLeft := false
	if raw, ok := lookup(envVarNotifyPeerLeft); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarNotifyPeerLeft, raw, err)
		}
		notifyPeerLeft = v
	}

	fs := flag.NewFlagSet("call-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	logging := registerLoggingFlags(fs, lookup)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")

	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Maximum concurrent signaling connections (0 = unlimited)")
	fs.IntVar(&maxParticipants, "max-participants-per-session", maxParticipants, "Maximum participants per session (0 = unlimited; env "+envVarMaxParticipantsPerSession+")")
	fs.StringVar(&defaultSession, "default-session", defaultSession, "Session for connections that omit ?session= (env "+envVarDefaultSession+")")
	fs.BoolVar(&notifyPeerLeft, "notify-peer-left", notifyPeerLeft, "Send peer-left to remaining participants on disconnect (env "+envVarNotifyPeerLeft+")")

	fs.DurationVar(&idleTimeout, "signaling-ws-idle-timeout", idleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&pingInterval, "signaling-ws-ping-interval", pingInterval, "Send ping frames at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Max inbound signaling messages per second per connection (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueBytes, "signaling-send-queue-bytes", sendQueueBytes, "Max queued outbound bytes per connection before dropping (env "+envVarSendQueueBytes+")")

	fs.StringVar(&presenceBackendStr, "presence-backend", presenceBackendStr, "Participant registry: memory or redis (env "+envVarPresenceBackend+")")
	fs.DurationVar(&presenceTTL, "presence-ttl", presenceTTL, "Expiry of a session's participant set in redis (env "+envVarPresenceTTL+")")
	fs.StringVar(&redisAddr, "redis-addr", redisAddr, "Redis address for --presence-backend=redis (env "+envVarRedisAddr+")")
	fs.StringVar(&redisPassword, "redis-password", redisPassword, "Redis password (env "+envVarRedisPassword+")")
	fs.IntVar(&redisDB, "redis-db", redisDB, "Redis database number (env "+envVarRedisDB+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, logFormat, logLevel, err := logging.resolve(fs)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarAllowedOrigins, err)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs)
	if err != nil {
		return Config{}, err
	}

	presenceBackend, err := parsePresenceBackend(presenceBackendStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:                    strings.TrimSpace(listenAddr),
		Mode:                          mode,
		LogFormat:                     logFormat,
		LogLevel:                      logLevel,
		ShutdownTimeout:               shutdownTimeout,
		AllowedOrigins:                allowedOrigins,
		ICEServers:                    iceServers,
		MaxConnections:                maxConnections,
		MaxParticipantsPerSession:     maxParticipants,
		DefaultSession:                strings.TrimSpace(defaultSession),
		NotifyPeerLeft:                notifyPeerLeft,
		SignalingWSIdleTimeout:        idleTimeout,
		SignalingWSPingInterval:       pingInterval,
		MaxSignalingMessageBytes:      maxMessageBytes,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		SendQueueBytes:                sendQueueBytes,
		PresenceBackend:               presenceBackend,
		PresenceTTL:                   presenceTTL,
		RedisAddr:                     strings.TrimSpace(redisAddr),
		RedisPassword:                 redisPassword,
		RedisDB:                       redisDB,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be > 0 (got %s)", c.ShutdownTimeout)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("--max-connections must be >= 0 (got %d)", c.MaxConnections)
	}
	if c.MaxParticipantsPerSession < 0 {
		return fmt.Errorf("%s must be >= 0 (got %d)", envVarMaxParticipantsPerSession, c.MaxParticipantsPerSession)
	}
	if c.DefaultSession == "" {
		return fmt.Errorf("%s must not be empty", envVarDefaultSession)
	}
	if c.SignalingWSIdleTimeout <= 0 {
		return fmt.Errorf("%s must be > 0 (got %s)", envVarSignalingWSIdleTimeout, c.SignalingWSIdleTimeout)
	}
	if c.SignalingWSPingInterval <= 0 {
		return fmt.Errorf("%s must be > 0 (got %s)", envVarSignalingWSPingInterval, c.SignalingWSPingInterval)
	}
	if c.SignalingWSPingInterval >= c.SignalingWSIdleTimeout {
		return fmt.Errorf("%s (%s) must be < %s (%s)", envVarSignalingWSPingInterval, c.SignalingWSPingInterval, envVarSignalingWSIdleTimeout, c.SignalingWSIdleTimeout)
	}
	if c.MaxSignalingMessageBytes <= 0 {
		return fmt.Errorf("%s must be > 0 (got %d)", envVarMaxSignalingMessageBytes, c.MaxSignalingMessageBytes)
	}
	if c.MaxSignalingMessagesPerSecond < 0 {
		return fmt.Errorf("%s must be >= 0 (got %d)", envVarMaxSignalingMessagesPerSecond, c.MaxSignalingMessagesPerSecond)
	}
	if c.SendQueueBytes <= 0 {
		return fmt.Errorf("%s must be > 0 (got %d)", envVarSendQueueBytes, c.SendQueueBytes)
	}
	if int64(c.SendQueueBytes) < c.MaxSignalingMessageBytes {
		return fmt.Errorf("%s (%d) must be >= %s (%d)", envVarSendQueueBytes, c.SendQueueBytes, envVarMaxSignalingMessageBytes, c.MaxSignalingMessageBytes)
	}
	if c.PresenceBackend == PresenceRedis {
		if c.RedisAddr == "" {
			return fmt.Errorf("%s is required when %s=%s", envVarRedisAddr, envVarPresenceBackend, PresenceRedis)
		}
		if c.PresenceTTL <= 0 {
			return fmt.Errorf("%s must be > 0 (got %s)", envVarPresenceTTL, c.PresenceTTL)
		}
	}
	return nil
}

// NewLogger builds the process logger on stdout.
func NewLogger(format LogFormat, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch format {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	return slog.New(handler), nil
}

// loggingFlags registers --mode/--log-format/--log-level. An explicit format
// or level (env or flag) wins; otherwise the final mode picks the default.
type loggingFlags struct {
	mode, format, level string
	envFormat, envLevel bool
}

func registerLoggingFlags(fs *flag.FlagSet, lookup func(string) (string, bool)) *loggingFlags {
	l := &loggingFlags{}
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	envFormat := envOrDefault(lookup, envVarLogFormat, "")
	envLevel := envOrDefault(lookup, envVarLogLevel, "")
	l.envFormat = envFormat != ""
	l.envLevel = envLevel != ""
	if !l.envFormat {
		envFormat = defaultLogFormatForMode(modeDefault)
	}
	if !l.envLevel {
		envLevel = defaultLogLevelForMode(modeDefault)
	}

	fs.StringVar(&l.mode, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&l.format, "log-format", envFormat, "Log format: text or json")
	fs.StringVar(&l.level, "log-level", envLevel, "Log level: debug, info, warn, error")
	return l
}

func (l *loggingFlags) resolve(fs *flag.FlagSet) (Mode, LogFormat, slog.Level, error) {
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(l.mode)
	if err != nil {
		return "", "", 0, err
	}
	formatStr := l.format
	if !l.envFormat && !setFlags["log-format"] {
		formatStr = defaultLogFormatForMode(string(mode))
	}
	levelStr := l.level
	if !l.envLevel && !setFlags["log-level"] {
		levelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(formatStr)
	if err != nil {
		return "", "", 0, err
	}
	logLevel, err := parseLogLevel(levelStr)
	if err != nil {
		return "", "", 0, err
	}
	return mode, logFormat, logLevel, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parsePresenceBackend(raw string) (PresenceBackend, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PresenceMemory), "":
		return PresenceMemory, nil
	case string(PresenceRedis):
		return PresenceRedis, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarPresenceBackend, raw, PresenceMemory, PresenceRedis)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
