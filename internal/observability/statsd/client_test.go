package statsd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" job/transition ":  "job_transition",
		"budget..consume":   "budget.consume",
		"multi  space":      "multi__space",
		"queue:depth|gauge": "queue_depth_gauge",
		"..":                "",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeMetricName(input), "input %q", input)
	}

	assert.Equal(t, "metrics.app", sanitizePrefix("  .metrics.app.  "))
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env":       "prod",
		" service ": " aggregation-worker ",
	}
	local := map[string]string{
		"result":      " success ",
		"":            "ignored",
		"env":         "stage",
		"return_code": "A|B,C",
	}

	assert.Equal(t, "|#env:stage,result:success,return_code:A_B_C,service:aggregation-worker",
		formatTags(global, local))
	assert.Empty(t, formatTags(nil, nil))
	assert.Empty(t, formatTags(map[string]string{" ": "x"}, nil))
}

func TestCloneTagsReturnsCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{"queue": "aggregation"}
	cloned := cloneTags(original)
	cloned["queue"] = "other"
	assert.Equal(t, "aggregation", original["queue"])
}

func TestFormatLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "aggw.job.duration:12.5|ms|#queue:q",
		formatLine("aggw.job.duration", "12.5", "ms", nil, map[string]string{"queue": "q"}))
}

func TestClientClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{conn: clientConn, logger: discard()}
	assert.True(t, client.Enabled())

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())
	require.NoError(t, client.Close(), "second close is a no-op")

	client.Count("after.close", 1, nil)
	assert.Zero(t, client.Dropped())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.NoError(t, nilClient.Close())
	nilClient.Gauge("queue.depth", 1, nil)
	assert.Zero(t, nilClient.Dropped())
}

func TestClientCountsFailedWrites(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	require.NoError(t, peerConn.Close())

	client := &Client{conn: clientConn, logger: discard()}
	client.Count("budget.consume", 1, nil)
	assert.Equal(t, int64(1), client.Dropped())
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("disabled without address", func(t *testing.T) {
		client, err := NewClient(ctx, Config{Enabled: true, Address: "   "})
		require.NoError(t, err)
		assert.False(t, client.Enabled())
	})

	t.Run("disabled flag", func(t *testing.T) {
		client, err := NewClient(ctx, Config{Address: "127.0.0.1:8125"})
		require.NoError(t, err)
		assert.False(t, client.Enabled())
	})

	t.Run("dial error", func(t *testing.T) {
		_, err := NewClient(ctx, Config{Enabled: true, Address: "bad address"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "statsd dial")
	})
}

func TestClientWritesStatsdLine(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	defer pc.Close()

	client, err := NewClient(context.Background(), Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "aggw.",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer client.Close()

	client.Count("budget.consume", 3, map[string]string{"outcome": "consumed"})

	buf := make([]byte, 512)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "aggw.budget.consume:3|c|#env:test,outcome:consumed", string(buf[:n]))
}

type countingSink struct{ counts, gauges, timings int }

func (c *countingSink) Count(string, int64, map[string]string)          { c.counts++ }
func (c *countingSink) Gauge(string, float64, map[string]string)        { c.gauges++ }
func (c *countingSink) Timing(string, time.Duration, map[string]string) { c.timings++ }

func TestFanout(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewFanout(nil, nil))

	single := &countingSink{}
	assert.Same(t, single, NewFanout(nil, single))

	a, b := &countingSink{}, &countingSink{}
	sink := NewFanout(a, nil, b)
	sink.Count("c", 1, nil)
	sink.Gauge("g", 1, nil)
	sink.Timing("t", time.Second, nil)
	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, countingSink{counts: 1, gauges: 1, timings: 1}, *s)
	}
}
