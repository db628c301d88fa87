package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/logmet/logmet-go/agent/internal/config"
	"github.com/logmet/logmet-go/internal/ids"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against the ingest Health and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts
	wg       sync.WaitGroup       // in-flight deliveries
}

// New creates an Engine from the alert configuration. It fails on a
// condition it cannot parse. An Engine with no rules is valid; Evaluate
// becomes a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	e := &Engine{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e, nil
}

// Evaluate tests all configured rules against h.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(h Health) {
	now := e.now()
	for _, r := range e.rules {
		fires, value := r.cond.eval(h)

		e.mu.Lock()
		var notify *Alert
		switch a, firing := e.active[r.Name]; {
		case fires && !firing && now.Sub(e.lastFire[r.Name]) > r.Cooldown:
			a = &Alert{
				ID:       ids.New(),
				RuleName: r.Name,
				Severity: r.Severity,
				Value:    value,
				Message:  fmt.Sprintf("[%s] %s fired: %s (value %.2f)", r.Severity, r.Name, r.Condition, value),
				FiredAt:  now,
				State:    "firing",
			}
			e.active[r.Name] = a
			e.lastFire[r.Name] = now
			cp := *a
			notify = &cp
			slog.Warn("alert fired", "rule", r.Name, "value", value, "severity", r.Severity)

		case !fires && firing:
			resolved := now
			a.State = "resolved"
			a.ResolvedAt = &resolved
			delete(e.active, r.Name)
			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
			slog.Info("alert resolved", "rule", r.Name)
		}
		e.mu.Unlock()

		if notify != nil {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.deliver(notify)
			}()
		}
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// Run evaluates probe every interval until ctx is cancelled, then waits for
// pending deliveries.
func (e *Engine) Run(ctx context.Context, interval time.Duration, probe func() Health) {
	defer e.Wait()
	if len(e.rules) == 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Evaluate(probe())
		}
	}
}

// Wait blocks until every pending webhook delivery has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
