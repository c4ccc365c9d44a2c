// Package cli implements the administration console: it connects to a
// running server as a client, logs in, and issues service commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/lockstep/internal/network"
)

// CLI runs console commands against a session.
type CLI struct {
	session *Session
	out     io.Writer
}

// New creates a console writing to out.
func New(session *Session, out io.Writer) *CLI {
	return &CLI{session: session, out: out}
}

// Start reads commands from in until EOF, quit, or ctx is done.
func (c *CLI) Start(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, "lockstep admin console. Type 'help' for available commands.")

	scanner := bufio.NewScanner(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Fprint(c.out, "lockstep> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		err := c.Execute(fields)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, ErrShutdown):
			fmt.Fprintln(c.out, "Server is shutting down")
			return nil
		case err != nil:
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

// ErrShutdown is returned after the server accepted a shutdown; the
// connection is gone afterwards.
var ErrShutdown = errors.New("server is shutting down")

// Execute runs a single command given as words.
func (c *CLI) Execute(args []string) error {
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "clients", "ls":
		return c.printClients()
	case "blacklist", "bans":
		return c.printBlacklist()
	case "kick":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := c.session.Kick(id); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Client %d kicked\n", id)
	case "ban":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := c.session.Ban(id); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Client %d banned\n", id)
	case "banip":
		p, err := parsePrefixArg(args)
		if err != nil {
			return err
		}
		if err := c.session.BanIP(p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Banned %s\n", p)
	case "unban":
		p, err := parsePrefixArg(args)
		if err != nil {
			return err
		}
		if err := c.session.UnbanIP(p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Unbanned %s\n", p)
	case "say", "msg":
		if len(args) == 0 {
			return fmt.Errorf("usage: say <message>")
		}
		msg := strings.Join(args, " ")
		if err := c.session.Say(msg); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Sent: %s\n", msg)
	case "announce":
		if err := c.session.Announce(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Announce scheduled")
	case "force-sync", "sync":
		if err := c.session.ForceSync(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Resynchronization requested")
	case "shutdown":
		if err := c.session.Shutdown(); err != nil {
			return err
		}
		return ErrShutdown
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for available commands", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Command", "Description"})
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"clients", "List connected clients"},
		{"blacklist", "List banned prefixes"},
		{"kick <id>", "Disconnect a client"},
		{"ban <id>", "Ban a client's address and disconnect it"},
		{"banip <addr|cidr>", "Ban an address or prefix"},
		{"unban <addr|cidr>", "Remove a ban"},
		{"say <message>", "Broadcast a chat message"},
		{"announce", "Report to the server list now"},
		{"force-sync", "Resynchronize all clients"},
		{"shutdown", "Stop the server"},
		{"quit", "Leave the console"},
	})
	tw.Render()
}

func (c *CLI) printClients() error {
	clients, err := c.session.Clients()
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "State", "Address", "Nickname", "Players"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, cl := range clients {
		marker := ""
		if cl.ID == c.session.ClientID() {
			marker = " (you)"
		}
		tw.Append([]string{
			strconv.FormatUint(uint64(cl.ID), 10) + marker,
			network.SlotState(cl.State).String(),
			cl.Address,
			cl.Nickname,
			fmt.Sprintf("%016b", cl.PlayerUnlocked),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printBlacklist() error {
	prefixes, err := c.session.Blacklist()
	if err != nil {
		return err
	}
	if len(prefixes) == 0 {
		fmt.Fprintln(c.out, "Blacklist is empty")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Prefix"})
	for _, p := range prefixes {
		tw.Append([]string{p})
	}
	tw.Render()
	return nil
}

func parseID(args []string) (uint32, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("client id required")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid client id: %s", args[0])
	}
	return uint32(id), nil
}

// parsePrefixArg validates the argument locally so typos are not sent to
// the server.
func parsePrefixArg(args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("address or prefix required")
	}
	p, err := network.ParsePrefix(args[0])
	if err != nil {
		return "", err
	}
	return p.String(), nil
}
