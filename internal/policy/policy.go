// Package policy decides what a service returns when a backend call fails.
//
// Every operation that talks to a store or an external SDK is listed in the
// table with an explicit Allow or Deny decision. Services call Resolve at
// their boundary instead of swallowing errors.
package policy

import (
	"fmt"
	"strings"

	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Operation names a backend-dependent operation
type Operation string

const (
	RateLimitCheck  Operation = "rate_limit_check"
	RateLimitRecord Operation = "rate_limit_record"
	Moderation      Operation = "moderation"
	ModerationAudit Operation = "moderation_audit"
	Notification    Operation = "notification"
	Search          Operation = "search"
	Stats           Operation = "stats"
)

// Decision is the outcome applied when an operation fails
type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

// ParseDecision parses "allow" or "deny"
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	}
	return Allow, fmt.Errorf("unknown decision %q", s)
}

// Defaults is the fail-open table: every operation allows on error.
func Defaults() map[Operation]Decision {
	return map[Operation]Decision{
		RateLimitCheck:  Allow,
		RateLimitRecord: Allow,
		Moderation:      Allow,
		ModerationAudit: Allow,
		Notification:    Allow,
		Search:          Allow,
		Stats:           Allow,
	}
}

// ParseOperation resolves a configured operation name against the table
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := Defaults()[op]; !ok {
		return "", fmt.Errorf("unknown operation %q", name)
	}
	return op, nil
}

// Policy maps operations to failure decisions
type Policy struct {
	table   map[Operation]Decision
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// New creates a policy from the defaults with config overrides applied
func New(overrides map[string]string, logger logrus.FieldLogger, m *metrics.Metrics) (*Policy, error) {
	table := Defaults()
	for name, raw := range overrides {
		op, err := ParseOperation(name)
		if err != nil {
			return nil, fmt.Errorf("failure policy: %w", err)
		}
		decision, err := ParseDecision(raw)
		if err != nil {
			return nil, fmt.Errorf("failure policy for %s: %w", name, err)
		}
		table[op] = decision
	}
	return &Policy{table: table, logger: logger, metrics: m}, nil
}

// Decision returns the configured decision for op; unknown operations allow
func (p *Policy) Decision(op Operation) Decision {
	if p == nil {
		return Allow
	}
	if d, ok := p.table[op]; ok {
		return d
	}
	return Allow
}

// Resolve logs err and returns whether the caller may proceed
func (p *Policy) Resolve(op Operation, err error) bool {
	decision := p.Decision(op)
	if p == nil {
		return true
	}
	if p.logger != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"operation": string(op),
			"decision":  decision.String(),
		}).Warn("Backend call failed, applying failure policy")
	}
	if p.metrics != nil {
		p.metrics.RecordFailurePolicy(string(op), decision.String())
	}
	return decision == Allow
}
