package coordinator

import (
	"context"

	"github.com/energizer-project/lockstep/internal/command"
	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/network"
)

// dispatch handles the commands that belong to the network layer and queues
// everything else for the game.
func (c *Coordinator) dispatch(cmd *command.Command, slot uint32) {
	if c.role == RoleClient {
		c.dispatchClient(cmd)
		return
	}

	// The slot a command arrived on is its author. Joins come before the
	// client knows its id.
	if cmd.OurClientID != slot {
		if cmd.ID != command.Join {
			c.logger.Warn().Uint32("id", slot).Uint32("claimed", cmd.OurClientID).
				Stringer("cmd", cmd.ID).Msg("client id does not match its slot")
		}
		cmd.OurClientID = slot
	}

	switch body := cmd.Body.(type) {
	case *command.JoinBody:
		c.handleJoin(slot, body)
	case *command.NickBody:
		if err := c.reg.SetNickname(slot, body.Nickname); err == nil {
			c.inject(cmd)
		}
	case *command.ReadyBody:
		info, ok := c.reg.Slot(slot)
		if !ok {
			return
		}
		if info.State == network.Connected {
			if err := c.reg.ChangeState(slot, network.Playing); err != nil {
				c.logger.Warn().Err(err).Uint32("id", slot).Msg("ready from slot that cannot play")
				return
			}
			c.emitState(slot)
		}
		c.inject(cmd)
	case *command.ServiceBody:
		if c.handleService(slot, body) {
			c.inject(cmd)
		}
	case *command.AuthPlayerBody:
		if c.locks == nil {
			c.inject(cmd)
			return
		}
		c.handleAuth(slot, body)
	default:
		c.inject(cmd)
	}
}

func (c *Coordinator) dispatchClient(cmd *command.Command) {
	if join, ok := cmd.Body.(*command.JoinBody); ok && join.Answer != 0 {
		c.clientID = join.ClientID
		c.joined = true
		c.logger.Info().Uint32("client_id", c.clientID).Msg("joined server")
		return
	}
	c.inject(cmd)
}

func (c *Coordinator) handleJoin(slot uint32, body *command.JoinBody) {
	if body.Answer != 0 {
		c.logger.Warn().Uint32("id", slot).Msg("client sent a join answer")
		return
	}
	c.reg.SetNickname(slot, body.Nickname)

	answer := command.New(&command.JoinBody{
		Nickname: body.Nickname,
		ClientID: slot,
		Answer:   1,
	}, c)
	if err := c.SendTo(slot, answer); err != nil {
		c.logger.Warn().Err(err).Uint32("id", slot).Msg("failed to answer join")
		return
	}
	c.logger.Info().Uint32("id", slot).Str("nickname", body.Nickname).Msg("client joined")
	c.emitState(slot)
}

func (c *Coordinator) handleAuth(slot uint32, body *command.AuthPlayerBody) {
	info, ok := c.reg.Slot(slot)
	if !ok {
		return
	}
	mask := info.PlayerUnlocked
	if body.PlayerNr < command.MaxPlayers && c.locks.Check(body.PlayerNr, body.Hash) {
		mask |= 1 << body.PlayerNr
		c.reg.SetPlayerUnlocked(slot, mask)
	}
	answer := command.New(&command.AuthPlayerBody{
		PlayerNr:       body.PlayerNr,
		PlayerUnlocked: mask,
	}, c)
	if err := c.SendTo(slot, answer); err != nil {
		c.logger.Warn().Err(err).Uint32("id", slot).Msg("failed to answer player auth")
	}
}

func (c *Coordinator) emitState(slot uint32) {
	info, ok := c.reg.Slot(slot)
	if !ok {
		return
	}
	c.emit(context.Background(), events.EventClientStateChanged, events.ClientPayload{
		ID: slot, Address: info.Address.String(), Nickname: info.Nickname, State: info.State.String(),
	})
}
