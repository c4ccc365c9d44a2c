package coordinator

import (
	"context"
	"net/netip"

	"github.com/energizer-project/lockstep/internal/command"
	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/network"
)

// adminName is the sender shown for broadcast admin messages.
const adminName = "Admin"

// handleService executes the administration operations the network layer
// owns and reports whether the command should also reach the game.
func (c *Coordinator) handleService(slot uint32, body *command.ServiceBody) bool {
	if body.Op == command.OpLoginAdmin {
		c.login(slot, body.Text)
		return false
	}

	info, ok := c.reg.Slot(slot)
	if !ok {
		return false
	}
	if info.State != network.Admin {
		c.logger.Warn().Uint32("id", slot).Stringer("op", body.Op).Msg("service operation from non-admin")
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: command.ServiceDenied})
		return false
	}

	switch body.Op {
	case command.OpAnnounceServer:
		c.announceNow = true
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: command.ServiceOK})

	case command.OpGetClientList:
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: command.ServiceOK, Clients: c.clientInfos()})

	case command.OpKickClient:
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: c.status(c.Kick(body.Number) == nil)})

	case command.OpBanClient:
		target, ok := c.reg.Slot(body.Number)
		banned := ok && target.Address.IsValid() && target.State != network.Server && target.State != network.Inactive
		if banned {
			c.ban(slot, netip.PrefixFrom(target.Address, target.Address.BitLen()))
			c.Kick(body.Number)
		}
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: c.status(banned)})

	case command.OpGetBlackList:
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: command.ServiceOK, Blacklist: c.blacklist.Strings()})

	case command.OpBanIP:
		p, err := network.ParsePrefix(body.Text)
		if err == nil {
			c.ban(slot, p)
		}
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: c.status(err == nil), Text: body.Text})

	case command.OpUnbanIP:
		removed := false
		if p, err := network.ParsePrefix(body.Text); err == nil && c.blacklist.Remove(p) {
			removed = true
			c.emit(context.Background(), events.EventBanChanged, events.BanPayload{Prefix: p.String(), Banned: false, By: slot})
		}
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: c.status(removed), Text: body.Text})

	case command.OpAdminMsg:
		msg := command.New(&command.ChatBody{
			Message:    body.Text,
			PlayerNr:   command.PlayerAll,
			ClientName: adminName,
		}, c)
		c.SendAll(msg, false, command.PlayerAll)
		c.emit(context.Background(), events.EventAdminNotice, body.Text)
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: command.ServiceOK})

	case command.OpShutdown:
		c.stopRequested = true
		c.answer(slot, &command.ServiceBody{Op: body.Op, Number: command.ServiceOK})

	default:
		// force_sync and the company operations act on the simulation.
		return true
	}
	return false
}

func (c *Coordinator) login(slot uint32, password string) {
	granted := c.cfg.AdminPassword != "" && password == c.cfg.AdminPassword
	if granted {
		if err := c.reg.ChangeState(slot, network.Admin); err != nil {
			granted = false
		}
	}
	if granted {
		c.logger.Info().Uint32("id", slot).Msg("admin logged in")
		c.emit(context.Background(), events.EventAdminLogin, events.ClientPayload{ID: slot, State: network.Admin.String()})
	} else {
		c.logger.Warn().Uint32("id", slot).Msg("admin login refused")
	}
	c.answer(slot, &command.ServiceBody{Op: command.OpLoginAdmin, Number: c.status(granted)})
}

func (c *Coordinator) ban(by uint32, p netip.Prefix) {
	if c.blacklist.Add(p) {
		c.logger.Info().Str("prefix", p.String()).Uint32("by", by).Msg("prefix banned")
		c.emit(context.Background(), events.EventBanChanged, events.BanPayload{Prefix: p.String(), Banned: true, By: by})
	}
}

func (c *Coordinator) clientInfos() []command.ClientInfo {
	var out []command.ClientInfo
	for _, s := range c.reg.ClientList() {
		if s.State == network.Inactive || s.State == network.Server {
			continue
		}
		out = append(out, command.ClientInfo{
			ID:             s.ID,
			State:          uint8(s.State),
			Address:        s.Address.String(),
			Nickname:       s.Nickname,
			PlayerUnlocked: s.PlayerUnlocked,
		})
	}
	return out
}

func (c *Coordinator) answer(slot uint32, body *command.ServiceBody) {
	if err := c.SendTo(slot, command.New(body, c)); err != nil {
		c.logger.Debug().Err(err).Uint32("id", slot).Msg("service answer not delivered")
	}
}

func (c *Coordinator) status(ok bool) uint32 {
	if ok {
		return command.ServiceOK
	}
	return command.ServiceDenied
}
