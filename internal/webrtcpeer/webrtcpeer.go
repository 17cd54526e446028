// Package webrtcpeer builds the pion API shared by every peer connection the
// call client creates.
package webrtcpeer

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	transport "github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	Logger *slog.Logger
	// PionLogLevel filters pion's internal ICE/DTLS logging. Defaults to warn.
	PionLogLevel *slog.Level

	// Net replaces the OS network stack, e.g. with a vnet.Net in tests.
	Net transport.Net

	// UDPPortMin and UDPPortMax restrict ICE host candidates to a port range
	// when both are set.
	UDPPortMin uint16
	UDPPortMax uint16
}

// NewAPI registers the default codecs and interceptors (NACK, RTCP reports)
// and routes pion logging into slog.
func NewAPI(opts Options) (*webrtc.API, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelWarn
	if opts.PionLogLevel != nil {
		level = *opts.PionLogLevel
	}

	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(logger, level),
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if opts.UDPPortMin != 0 || opts.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}
