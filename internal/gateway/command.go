package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Action is a command the gateway understands.
type Action string

// Supported actions.
const (
	ActionPing         Action = "ping"
	ActionScan         Action = "scan"
	ActionProvision    Action = "provision"
	ActionDesintegrate Action = "desintegrate"
	ActionRename       Action = "rename"
)

// Actions lists every action in a stable order.
var Actions = []Action{ActionPing, ActionScan, ActionProvision, ActionDesintegrate, ActionRename}

var wireNames = map[Action]string{
	ActionPing:         "ping",
	ActionScan:         "scan",
	ActionProvision:    "provisionar",
	ActionDesintegrate: "desintegrar",
	ActionRename:       "atualizar_nome",
}

// Wire returns the action name the gateway firmware uses ("acao").
func (a Action) Wire() string {
	return wireNames[a]
}

// ParseWireAction maps a firmware action name back to an Action.
func ParseWireAction(s string) (Action, bool) {
	for a, w := range wireNames {
		if w == s {
			return a, true
		}
	}
	return "", false
}

// Command is one request to the gateway.
//
// The JSON form is the firmware's wire format. Only the fields relevant to
// the action are set; the rest are omitted.
type Command struct {
	Action    string `json:"acao"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`

	MAC        string `json:"macSilo,omitempty"`
	SiloID     string `json:"siloId,omitempty"`
	SiloName   string `json:"siloNome,omitempty"`
	NewName    string `json:"novoNome,omitempty"`
	Identifier string `json:"dispositivo,omitempty"`

	// Deadline is how long the sender waits for the response. Pull
	// transports use it to bound polling; it is not sent.
	Deadline time.Duration `json:"-"`
}

// IssuedAt returns the command's timestamp as a time.
func (c Command) IssuedAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Encode returns the wire JSON.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding command %s: %w", c.ID, err)
	}
	return data, nil
}

// IDGenerator produces "<acao>_<epoch-ms>" ids.
//
// The millisecond part is strictly increasing per generator, so two commands
// issued in the same millisecond still get different ids.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator creates a generator on the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh id for action and the millisecond timestamp in it.
func (g *IDGenerator) Next(action Action) (id string, ms int64) {
	g.mu.Lock()
	ms = g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return action.Wire() + "_" + strconv.FormatInt(ms, 10), ms
}

// NewCommand builds a command for action with a fresh id. Callers fill in
// the action-specific fields.
func (g *IDGenerator) NewCommand(action Action, deadline time.Duration) Command {
	id, ms := g.Next(action)
	return Command{
		Action:    action.Wire(),
		ID:        id,
		Timestamp: ms,
		Deadline:  deadline,
	}
}
