package alerts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmet/logmet-go/agent/internal/config"
	"github.com/logmet/logmet-go/internal/jsoncodec"
)

func TestParseCondition(t *testing.T) {
	for _, ok := range []string{
		"state == disconnected",
		"state != connected",
		"pending > 40",
		"inflight >= 100",
		"retry_in_s > 60",
		"cert_days_left < 14",
		"dropped != 0",
	} {
		_, err := parseCondition(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{
		"pending >",
		"state > connected",
		"latency > 5",
		"pending ~ 4",
		"pending > many",
	} {
		_, err := parseCondition(bad)
		assert.Error(t, err, bad)
	}
}

func TestConditionEval(t *testing.T) {
	h := Health{State: "connecting", Pending: 45, InFlight: 100, RetryIn: 120, Dropped: 3}

	cases := []struct {
		cond  string
		fires bool
		value float64
	}{
		{"state == connecting", true, 0},
		{"state != connected", true, 0},
		{"state == connected", false, 0},
		{"pending > 40", true, 45},
		{"inflight >= 100", true, 100},
		{"retry_in_s < 60", false, 120},
		{"dropped > 0", true, 3},
		{"cert_days_left < 14", false, 0},
	}
	for _, tc := range cases {
		c, err := parseCondition(tc.cond)
		require.NoError(t, err)
		fires, v := c.eval(h)
		assert.Equal(t, tc.fires, fires, tc.cond)
		assert.Equal(t, tc.value, v, tc.cond)
	}

	c, _ := parseCondition("cert_days_left < 14")
	fires, v := c.eval(Health{HasCert: true, CertDaysLeft: 3})
	assert.True(t, fires)
	assert.Equal(t, 3.0, v)
}

func TestNew_RejectsBadCondition(t *testing.T) {
	_, err := New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "x", Condition: "nonsense"}}})
	assert.Error(t, err)
}

// hookRecorder is a webhook endpoint that records every payload.
type hookRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var m map[string]any
	_ = jsoncodec.Unmarshal(data, &m)
	h.mu.Lock()
	h.bodies = append(h.bodies, m)
	h.mu.Unlock()
}

func (h *hookRecorder) received() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]any(nil), h.bodies...)
}

func newEngine(t *testing.T, hookType string, rules ...config.AlertRule) (*Engine, *hookRecorder, *time.Time) {
	t.Helper()
	rec := &hookRecorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	t.Setenv("ALERTS_TEST_HOOK", srv.URL)

	e, err := New(config.AlertsConfig{
		Rules:    rules,
		Webhooks: []config.WebhookConfig{{Type: hookType, URLEnv: "ALERTS_TEST_HOOK"}},
	})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, rec, &now
}

func TestEngine_FireAndResolve(t *testing.T) {
	e, rec, _ := newEngine(t, "http", config.AlertRule{
		Name: "ingest-down", Condition: "state == disconnected", Severity: "critical",
	})

	e.Evaluate(Health{State: "disconnected"})
	e.Wait()
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "firing", active[0].State)
	assert.Equal(t, "critical", active[0].Severity)
	assert.Len(t, active[0].ID, 26)

	// Still failing: no duplicate notification.
	e.Evaluate(Health{State: "disconnected"})
	e.Wait()
	require.Len(t, rec.received(), 1)

	e.Evaluate(Health{State: "connected"})
	e.Wait()
	bodies := rec.received()
	require.Len(t, bodies, 2)
	assert.Equal(t, "resolved", bodies[1]["alert"].(map[string]any)["state"])

	active = e.Active()
	require.Len(t, active, 1, "resolved alerts stay visible for an hour")
	assert.Equal(t, "resolved", active[0].State)
}

func TestEngine_Cooldown(t *testing.T) {
	e, rec, now := newEngine(t, "slack", config.AlertRule{
		Name: "backlog", Condition: "pending > 10", Cooldown: 10 * time.Minute,
	})

	e.Evaluate(Health{Pending: 20})
	e.Evaluate(Health{Pending: 0})
	*now = now.Add(time.Minute)
	e.Evaluate(Health{Pending: 20}) // within cooldown
	e.Wait()
	assert.Len(t, rec.received(), 2, "fire and resolve, no re-fire inside the cooldown")

	*now = now.Add(15 * time.Minute)
	e.Evaluate(Health{Pending: 20})
	e.Wait()
	bodies := rec.received()
	require.Len(t, bodies, 3)
	assert.Contains(t, bodies[2]["text"], "[WARNING]")
}

func TestEngine_TeamsPayload(t *testing.T) {
	e, rec, _ := newEngine(t, "teams", config.AlertRule{
		Name: "cert", Condition: "cert_days_left < 14", Severity: "critical",
	})
	e.Evaluate(Health{HasCert: true, CertDaysLeft: 5})
	e.Wait()

	bodies := rec.received()
	require.Len(t, bodies, 1)
	assert.Equal(t, "MessageCard", bodies[0]["@type"])
	assert.Equal(t, "FF4F6A", bodies[0]["themeColor"])
	assert.Equal(t, "Logmet ingest alert: cert", bodies[0]["title"])
}

func TestEngine_NoRules(t *testing.T) {
	e, err := New(config.AlertsConfig{})
	require.NoError(t, err)
	e.Evaluate(Health{State: "disconnected"})
	assert.Empty(t, e.Active())
}

func TestEngine_Run(t *testing.T) {
	e, rec, _ := newEngine(t, "http", config.AlertRule{Name: "drops", Condition: "dropped > 0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, 5*time.Millisecond, func() Health { return Health{Dropped: 7} })
		close(done)
	}()

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, rec.received(), 1, "a firing alert is not re-sent")
}
