package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/lockstep/internal/command"
	"github.com/energizer-project/lockstep/internal/config"
	"github.com/energizer-project/lockstep/internal/coordinator"
)

var (
	ErrDenied  = errors.New("cli: server refused the request")
	ErrTimeout = errors.New("cli: no answer from server")
)

// Session is an administrative client connection.
type Session struct {
	coord   *coordinator.Coordinator
	tick    time.Duration
	timeout time.Duration
}

// Dial connects to addr as a client named nickname and waits until the
// server has assigned a client id.
func Dial(ctx context.Context, cfg config.NetworkConfig, addr, nickname string, timeout time.Duration) (*Session, error) {
	coord := coordinator.NewClient(cfg, coordinator.WithNickname(nickname))
	if err := coord.Connect(ctx, addr); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	s := &Session{coord: coord, tick: cfg.Tick(), timeout: timeout}

	deadline := time.Now().Add(timeout)
	for !coord.Joined() {
		if time.Now().After(deadline) {
			coord.Shutdown()
			return nil, fmt.Errorf("join %s: %w", addr, ErrTimeout)
		}
		if err := coord.Tick(s.tick); err != nil {
			coord.Shutdown()
			return nil, fmt.Errorf("join %s: %w", addr, err)
		}
		for coord.Next() != nil {
		}
	}
	return s, nil
}

// ClientID returns the id the server assigned to this session.
func (s *Session) ClientID() uint32 {
	return s.coord.ClientID()
}

// Close disconnects from the server.
func (s *Session) Close() {
	s.coord.Shutdown()
}

// Login authenticates as administrator.
func (s *Session) Login(password string) error {
	_, err := s.request(&command.ServiceBody{Op: command.OpLoginAdmin, Text: password})
	return err
}

// Clients returns the server's connection list.
func (s *Session) Clients() ([]command.ClientInfo, error) {
	answer, err := s.request(&command.ServiceBody{Op: command.OpGetClientList})
	if err != nil {
		return nil, err
	}
	return answer.Clients, nil
}

// Blacklist returns the banned prefixes.
func (s *Session) Blacklist() ([]string, error) {
	answer, err := s.request(&command.ServiceBody{Op: command.OpGetBlackList})
	if err != nil {
		return nil, err
	}
	return answer.Blacklist, nil
}

// Kick disconnects client id.
func (s *Session) Kick(id uint32) error {
	_, err := s.request(&command.ServiceBody{Op: command.OpKickClient, Number: id})
	return err
}

// Ban blacklists the address of client id and disconnects it.
func (s *Session) Ban(id uint32) error {
	_, err := s.request(&command.ServiceBody{Op: command.OpBanClient, Number: id})
	return err
}

// BanIP blacklists an address or CIDR prefix.
func (s *Session) BanIP(prefix string) error {
	_, err := s.request(&command.ServiceBody{Op: command.OpBanIP, Text: prefix})
	return err
}

// UnbanIP removes a prefix from the blacklist.
func (s *Session) UnbanIP(prefix string) error {
	_, err := s.request(&command.ServiceBody{Op: command.OpUnbanIP, Text: prefix})
	return err
}

// Say broadcasts a chat message from the administrator.
func (s *Session) Say(msg string) error {
	_, err := s.request(&command.ServiceBody{Op: command.OpAdminMsg, Text: msg})
	return err
}

// Announce asks the server to report to the server list now.
func (s *Session) Announce() error {
	_, err := s.request(&command.ServiceBody{Op: command.OpAnnounceServer})
	return err
}

// Shutdown stops the server.
func (s *Session) Shutdown() error {
	_, err := s.request(&command.ServiceBody{Op: command.OpShutdown})
	return err
}

// ForceSync asks the game to resynchronize all clients. The game handles
// it without an answer.
func (s *Session) ForceSync() error {
	return s.coord.SendServer(command.New(&command.ServiceBody{Op: command.OpForceSync}, s.coord))
}

// request sends body and waits for the server's answer with the same
// operation. Other commands arriving meanwhile are discarded.
func (s *Session) request(body *command.ServiceBody) (*command.ServiceBody, error) {
	if err := s.coord.SendServer(command.New(body, s.coord)); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.timeout)
	for time.Now().Before(deadline) {
		if err := s.coord.Tick(s.tick); err != nil {
			return nil, err
		}
		for cmd := s.coord.Next(); cmd != nil; cmd = s.coord.Next() {
			answer, ok := cmd.Body.(*command.ServiceBody)
			if !ok || answer.Op != body.Op {
				continue
			}
			if answer.Number != command.ServiceOK {
				return answer, fmt.Errorf("%s: %w", body.Op, ErrDenied)
			}
			return answer, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", body.Op, ErrTimeout)
}
