package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_DefaultsAreQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:                      config.ModeDev,
		MaxParticipantsPerSession: 2,
		MaxSignalingMessageBytes:  64 * 1024,
		PresenceBackend:           config.PresenceMemory,
	})

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("expected no warnings, got %#v", got)
	}
}

func TestStartupWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:                      config.ModeDev,
		AllowedOrigins:            []string{"https://example.com", "*"},
		MaxParticipantsPerSession: 2,
	})

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupWarnings_ProdLimits(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:                      config.ModeProd,
		MaxParticipantsPerSession: 0,
		MaxSignalingMessageBytes:  4 << 20,
		PresenceBackend:           config.PresenceRedis,
		RedisAddr:                 "redis:6379",
	})

	codes := warningCodes(records())
	for _, want := range []string{
		"max_connections_unlimited_in_prod",
		"session_capacity_above_two",
		"max_signaling_message_large",
		"redis_without_password_in_prod",
	} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("missing warning_code=%s in %#v", want, codes)
		}
	}
	if r := codes["session_capacity_above_two"]; r.attrs["max_participants_per_session"] != int64(0) {
		t.Fatalf("max_participants_per_session attr = %#v, want 0", r.attrs["max_participants_per_session"])
	}
}
