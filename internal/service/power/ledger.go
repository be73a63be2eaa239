package power

import (
	"fmt"
	"sync"
)

// CapabilityID identifies a metered power
type CapabilityID string

const (
	Reasoning     CapabilityID = "reasoning"
	SuperSearch   CapabilityID = "superSearch"
	CodeGen       CapabilityID = "codeGen"
	ImageGen      CapabilityID = "imageGen"
	Orchestration CapabilityID = "orchestration"
)

// Capability describes a power and its starting credits
type Capability struct {
	ID             CapabilityID `json:"id"`
	Name           string       `json:"name"`
	Command        string       `json:"command,omitempty"`
	DefaultCredits int          `json:"-"`
	Response       string       `json:"-"`
}

// DefaultCapabilities returns the built-in power table in display order
func DefaultCapabilities() []Capability {
	return []Capability{
		{ID: Reasoning, Name: "Advanced reasoning", DefaultCredits: 15},
		{
			ID:             SuperSearch,
			Name:           "Super Search",
			Command:        "/search",
			DefaultCredits: 8,
			Response:       "The 'Super Search' power was activated. According to my (simulated) web search, the MCP protocol was announced by Anthropic.",
		},
		{
			ID:             CodeGen,
			Name:           "Code Gen",
			Command:        "/code",
			DefaultCredits: 12,
			Response:       "Here is a code sample, generated with the 'Code Gen' power:\n```javascript\nconst mcp = require('model-context-protocol');\n\nasync function main() {\n  console.log('Connected to MCP!');\n}\n\nmain();\n```",
		},
		{
			ID:             ImageGen,
			Name:           "Image Gen",
			Command:        "/image",
			DefaultCredits: 5,
			Response:       "Here is an image generated with the 'Image Gen' power (this is a simulation):\n\n[Image of a universal protocol logo in a futuristic style]",
		},
		{ID: Orchestration, Name: "Orchestration", DefaultCredits: 3},
	}
}

// CreditsExhaustedError is returned when a power has no credits left
type CreditsExhaustedError struct {
	Capability string
}

func (e *CreditsExhaustedError) Error() string {
	return fmt.Sprintf("credits exhausted for the '%s' power", e.Capability)
}

// Balance is one row of a ledger snapshot
type Balance struct {
	ID        CapabilityID `json:"id"`
	Name      string       `json:"name"`
	Command   string       `json:"command,omitempty"`
	Remaining int          `json:"remaining"`
}

// Ledger holds per-capability credit counters for one session.
// Counters only go down and never below zero. Nothing is persisted.
type Ledger struct {
	mu           sync.Mutex
	capabilities []Capability
	remaining    map[CapabilityID]int
}

func NewLedger(capabilities []Capability) *Ledger {
	remaining := make(map[CapabilityID]int, len(capabilities))
	for _, c := range capabilities {
		remaining[c.ID] = max(c.DefaultCredits, 0)
	}
	return &Ledger{capabilities: capabilities, remaining: remaining}
}

// Remaining returns 0 for unknown capabilities
func (l *Ledger) Remaining(id CapabilityID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining[id]
}

// Charge takes one credit. At zero it changes nothing and returns CreditsExhaustedError.
func (l *Ledger) Charge(id CapabilityID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.remaining[id] <= 0 {
		return &CreditsExhaustedError{Capability: l.nameLocked(id)}
	}
	l.remaining[id]--
	return nil
}

func (l *Ledger) Snapshot() []Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Balance, 0, len(l.capabilities))
	for _, c := range l.capabilities {
		out = append(out, Balance{ID: c.ID, Name: c.Name, Command: c.Command, Remaining: l.remaining[c.ID]})
	}
	return out
}

func (l *Ledger) nameLocked(id CapabilityID) string {
	for _, c := range l.capabilities {
		if c.ID == id {
			return c.Name
		}
	}
	return string(id)
}
