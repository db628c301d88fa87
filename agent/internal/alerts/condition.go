package alerts

import (
	"fmt"
	"strconv"
	"strings"
)

// Health is the ingest state alert rules are evaluated against.
type Health struct {
	// State is the producer connection state: disconnected | connecting | connected.
	State string

	Pending  int
	InFlight int

	// RetryIn is the delay before the next reconnect attempt, in seconds.
	RetryIn float64

	// CertDaysLeft is the ingest certificate lifetime; valid only with HasCert.
	CertDaysLeft int
	HasCert      bool

	// Dropped is the number of records refused in the last scrape cycle.
	Dropped int
}

// condition is a parsed "field operator value" expression.
type condition struct {
	field string
	op    string
	rhs   string
	num   float64
}

// parseCondition parses a rule condition.
//
// Supported expressions (field operator value):
//
//	state == disconnected
//	state != connected
//	pending > 40
//	inflight >= 100
//	retry_in_s > 60
//	cert_days_left < 14
//	dropped > 0
func parseCondition(cond string) (condition, error) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", cond)
	}
	c := condition{field: parts[0], op: parts[1], rhs: parts[2]}

	if c.field == "state" {
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: state supports == and != only", cond)
		}
		return c, nil
	}
	switch c.field {
	case "pending", "inflight", "retry_in_s", "cert_days_left", "dropped":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown field %q", cond, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", cond, c.op)
	}
	n, err := strconv.ParseFloat(c.rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: %w", cond, err)
	}
	c.num = n
	return c, nil
}

// eval returns whether the condition holds for h and the value it tested.
func (c condition) eval(h Health) (bool, float64) {
	switch c.field {
	case "state":
		return (h.State == c.rhs) == (c.op == "=="), 0
	case "cert_days_left":
		if !h.HasCert {
			return false, 0
		}
	}
	v := numericField(c.field, h)
	return compareFloat(v, c.op, c.num), v
}

// numericField maps a field name to its value in h.
func numericField(field string, h Health) float64 {
	switch field {
	case "pending":
		return float64(h.Pending)
	case "inflight":
		return float64(h.InFlight)
	case "retry_in_s":
		return h.RetryIn
	case "cert_days_left":
		return float64(h.CertDaysLeft)
	case "dropped":
		return float64(h.Dropped)
	default:
		return 0
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
