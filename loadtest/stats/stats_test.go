package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	Summarize(ds)

	cases := map[float64]time.Duration{
		0.50: 50 * time.Millisecond,
		0.95: 95 * time.Millisecond,
		0.99: 99 * time.Millisecond,
		1.00: 100 * time.Millisecond,
	}
	for p, want := range cases {
		require.Equal(t, want, percentile(ds, p), "p=%v", p)
	}
}

func TestParseMetricLine(t *testing.T) {
	cases := []struct {
		line  string
		name  string
		value float64
		ok    bool
	}{
		{"whisper_dm_connections_active 12", "whisper_dm_connections_active", 12, true},
		{`whisper_dm_messages_total{outcome="delivered"} 7`, "whisper_dm_messages_total", 7, true},
		{"whisper_dm_send_latency_seconds_sum 0.25", "whisper_dm_send_latency_seconds_sum", 0.25, true},
		{`broken{label="x" 3`, "", 0, false},
		{"lonely", "", 0, false},
	}
	for _, tc := range cases {
		name, value, ok := parseMetricLine(tc.line)
		require.Equal(t, tc.ok, ok, tc.line)
		require.Equal(t, tc.name, name, tc.line)
		require.Equal(t, tc.value, value, tc.line)
	}
}
