package metrics

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

const (
	metricName = "call_relay_events_total"
	metricHelp = "Signaling relay event counters."
)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler serves the registry in the text exposition format, one
// series per counter under the `event` label.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(render(m.Snapshot())))
	})
}

func render(snap map[string]uint64) string {
	events := make([]string, 0, len(snap))
	for event := range snap {
		events = append(events, event)
	}
	slices.Sort(events)

	var b strings.Builder
	b.WriteString("# HELP " + metricName + " " + metricHelp + "\n")
	b.WriteString("# TYPE " + metricName + " counter\n")
	for _, event := range events {
		b.WriteString(metricName)
		b.WriteString(`{event="`)
		b.WriteString(labelEscaper.Replace(event))
		b.WriteString(`"} `)
		b.WriteString(strconv.FormatUint(snap[event], 10))
		b.WriteByte('\n')
	}
	return b.String()
}
