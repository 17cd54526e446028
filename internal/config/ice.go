package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "CALL_ICE_SERVERS_JSON"
	envStunURLs       = "CALL_STUN_URLS"

	// DefaultSTUNURL is the single public reachability server calls use.
	DefaultSTUNURL = "stun:stun.l.google.com:19302"
)

// ErrTURNUnsupported is returned for turn:/turns: URLs. Calls only use STUN;
// peers behind symmetric NATs will not connect.
var ErrTURNUnsupported = errors.New("turn servers are not supported")

func parseICEServersFromValues(iceServersJSON, stunURLs string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}

	iceServers, err := ParseSTUNURLs(stunURLs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envStunURLs, err)
	}
	return iceServers, nil
}

type iceServerJSON struct {
	URLs stringOrStringSlice `json:"urls"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a browser-style iceServers array, e.g.
// [{"urls":["stun:stun.example.com:3478"]}].
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		pcServer := webrtc.ICEServer{URLs: splitTrimmed(server.URLs)}
		if err := validateICEServer(pcServer); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

// ParseSTUNURLs builds a single ICE server from a comma-separated URL list.
// An empty list yields no servers (host candidates only).
func ParseSTUNURLs(stunURLs string) ([]webrtc.ICEServer, error) {
	urls := splitTrimmed(strings.Split(stunURLs, ","))
	if len(urls) == 0 {
		return nil, nil
	}
	server := webrtc.ICEServer{URLs: urls}
	if err := validateICEServer(server); err != nil {
		return nil, err
	}
	return []webrtc.ICEServer{server}, nil
}

func splitTrimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, url := range server.URLs {
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			return fmt.Errorf("%q: %w", url, ErrTURNUnsupported)
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}
	return nil
}
