package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the settings a fresh server needs and saves them.
// An empty answer keeps the value shown in brackets.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	ask := &prompter{in: bufio.NewReader(in), out: out}
	net := &cfg.Network
	app := &cfg.ApplicationData

	fmt.Fprint(out, "Lockstep server setup\n\n")
	net.ServerName = ask.text("Server name", net.ServerName)
	net.Port = ask.number("Game port", net.Port)
	net.MaxClients = ask.number("Maximum connections", net.MaxClients)
	net.AdminPassword = ask.text("Admin password (blank disables remote admin)", "")

	fmt.Fprint(out, "\nServices\n")
	if app.Announce.Enabled = ask.yes("Announce on the public server list", app.Announce.Enabled); app.Announce.Enabled {
		app.Announce.URL = ask.text("Announce URL", app.Announce.URL)
	}
	if app.MQTT.Enabled = ask.yes("Enable MQTT telemetry", app.MQTT.Enabled); app.MQTT.Enabled {
		app.MQTT.BrokerURL = ask.text("MQTT broker host", app.MQTT.BrokerURL)
	}
	app.Status.Enabled = ask.yes("Enable the HTTP status API", app.Status.Enabled)

	result := Validate(cfg)
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !result.IsValid() {
		fmt.Fprintln(out, "\nThe answers are not valid:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  %s: %s\n", e.Field, e.Message)
		}
		return errors.New("setup produced an invalid configuration")
	}

	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSaved to %s\n", cfg.Path())
	return nil
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) answer(prompt, shown string) string {
	if shown == "" {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	} else {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, shown)
	}
	line, _ := p.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (p *prompter) text(prompt, def string) string {
	if a := p.answer(prompt, def); a != "" {
		return a
	}
	return def
}

func (p *prompter) number(prompt string, def int) int {
	a := p.answer(prompt, strconv.Itoa(def))
	if a == "" {
		return def
	}
	n, err := strconv.Atoi(a)
	if err != nil {
		fmt.Fprintf(p.out, "    not a number, keeping %d\n", def)
		return def
	}
	return n
}

func (p *prompter) yes(prompt string, def bool) bool {
	shown := "no"
	if def {
		shown = "yes"
	}
	switch strings.ToLower(p.answer(prompt, shown)) {
	case "":
		return def
	case "y", "yes", "true", "1":
		return true
	default:
		return false
	}
}
