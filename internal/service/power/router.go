package power

import (
	"context"
	"strings"
	"time"

	"mcp-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

// Router matches slash-commands to powers and produces their simulated responses
type Router struct {
	ledger       *Ledger
	capabilities []Capability
	delay        time.Duration
}

func NewRouter(ledger *Ledger, capabilities []Capability, delay time.Duration) *Router {
	return &Router{ledger: ledger, capabilities: capabilities, delay: delay}
}

// Match returns the capability whose command prefixes message
func (r *Router) Match(message string) (Capability, bool) {
	for _, c := range r.capabilities {
		if c.Command != "" && strings.HasPrefix(message, c.Command) {
			return c, true
		}
	}
	return Capability{}, false
}

// Execute runs a matched power. Credits are checked before the delay and
// charged once after it; nothing is charged on any failure path.
func (r *Router) Execute(ctx context.Context, c Capability) (string, error) {
	if r.ledger.Remaining(c.ID) <= 0 {
		return "", &CreditsExhaustedError{Capability: c.Name}
	}

	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if err := r.ledger.Charge(c.ID); err != nil {
		return "", err
	}

	logger.Log.WithFields(logrus.Fields{
		"capability": c.ID,
		"remaining":  r.ledger.Remaining(c.ID),
	}).Info("Power used")
	return c.Response, nil
}

func (r *Router) Ledger() *Ledger {
	return r.ledger
}
