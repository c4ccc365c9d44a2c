package coordinator

import "github.com/energizer-project/lockstep/internal/command"

// Relay is the world of a server that hosts no simulation. It fans the
// commands clients submit out to every playing client, the sender included,
// so all peers apply the same stream in the same order.
type Relay struct {
	c *Coordinator
}

// NewRelay returns a relay world broadcasting through c.
func NewRelay(c *Coordinator) *Relay {
	return &Relay{c: c}
}

// Apply broadcasts game commands and drops the rest. Network-layer commands
// that reach the FIFO (nick, ready, service, auth) have already been acted
// on and concern the server alone.
func (r *Relay) Apply(cmd *command.Command) bool {
	if !relayed(cmd.ID) {
		return true
	}
	if err := r.c.SendAll(cmd, true, command.PlayerAll); err != nil {
		r.c.logger.Warn().Err(err).Stringer("cmd", cmd).Msg("relay failed")
	}
	return true
}

func relayed(id command.ID) bool {
	switch id {
	case command.Chat, command.Tool, command.ChangePlayer, command.Scenario, command.ScenarioRules:
		return true
	default:
		return false
	}
}
