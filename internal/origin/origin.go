// Package origin decides whether a browser may open a signaling connection,
// based on its Origin header.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Null is the opaque origin browsers send from sandboxed or file:// pages.
const Null = "null"

// NormalizeHeader validates a browser Origin header and returns
// scheme://host[:port] together with the host[:port] part used for same-host
// comparisons. Default ports are dropped so http://a:80 equals http://a.
func NormalizeHeader(originHeader string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == Null {
		return Null, "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy is the allow-list applied to WebSocket upgrades. An empty Allowed
// list means same-host only; "*" admits everything.
type Policy struct {
	Allowed []string
}

// Check reports whether r may proceed. Requests without an Origin header are
// not from a browser and are admitted.
func (p Policy) Check(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if strings.TrimSpace(raw) == "" {
		return true
	}
	normalized, host, ok := NormalizeHeader(raw)
	if !ok {
		return false
	}
	return IsAllowed(normalized, host, r.Host, p.Allowed)
}

// IsAllowed matches an already normalized origin against allowedOrigins, or
// against requestHost when the list is empty.
func IsAllowed(normalized, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalized {
				return true
			}
		}
		return false
	}

	// Scheme is not compared: a TLS-terminating proxy makes the request look
	// like plain HTTP while the page origin is https.
	var scheme string
	switch {
	case strings.HasPrefix(normalized, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalized, "https://"):
		scheme = "https"
	default:
		return false
	}

	reqHost, ok := canonicalAuthority(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

func canonicalAuthority(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(authority))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]; IPv6 literals come back without brackets.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}

	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = raw[1:end]
		rest := raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		h, p, _ := strings.Cut(raw, ":")
		if h == "" || p == "" {
			return "", "", false
		}
		return h, p, true
	default:
		return "", "", false
	}
}
