package config

import (
	"errors"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": ["stun:stun.example.com:3478", " stun:stun2.example.com:3478 "]},
	  {"urls": "stun:stun3.example.com"}
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 || got[1] != "stun:stun2.example.com:3478" {
		t.Fatalf("unexpected urls: %#v", got)
	}
	if got := servers[1].URLs; len(got) != 1 || got[0] != "stun:stun3.example.com" {
		t.Fatalf("unexpected single-string urls: %#v", got)
	}
}

func TestParseICEServersJSON_RejectsTURN(t *testing.T) {
	t.Parallel()

	_, err := ParseICEServersJSON(`[{"urls": ["turn:turn.example.com:3478"]}]`)
	if !errors.Is(err, ErrTURNUnsupported) {
		t.Fatalf("err=%v, want %v", err, ErrTURNUnsupported)
	}
}

func TestParseICEServersJSON_RejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`not json`,
		`[{"urls": []}]`,
		`[{"urls": ["http://example.com"]}]`,
	} {
		if _, err := ParseICEServersJSON(raw); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseSTUNURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseSTUNURLs(" stun:a.example.com:3478 , ,stun:b.example.com ")
	if err != nil {
		t.Fatalf("ParseSTUNURLs: %v", err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 2 {
		t.Fatalf("servers=%#v", servers)
	}

	servers, err = ParseSTUNURLs("")
	if err != nil || servers != nil {
		t.Fatalf("empty list: servers=%#v err=%v", servers, err)
	}

	if _, err := ParseSTUNURLs("turns:turn.example.com"); !errors.Is(err, ErrTURNUnsupported) {
		t.Fatalf("err=%v, want %v", err, ErrTURNUnsupported)
	}
}

func TestRelayICEServersJSONOverridesSTUNURLs(t *testing.T) {
	cfg, err := loadRelay(lookupMap(map[string]string{
		envICEServersJSON: `[{"urls":"stun:json.example.com"}]`,
		envStunURLs:       "stun:ignored.example.com",
	}), nil)
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("ICEServers=%#v", cfg.ICEServers)
	}
}
