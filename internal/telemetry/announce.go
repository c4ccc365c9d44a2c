package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/protocol"
)

const userAgent = "lockstep/%d"

// Announcer posts usage reports to a server list over HTTP.
type Announcer struct {
	url    string
	client *http.Client
}

// NewAnnouncer returns an announcer posting to url.
func NewAnnouncer(url string) *Announcer {
	return &Announcer{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    2,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// Subscribe posts every announce event published on bus.
func (a *Announcer) Subscribe(bus *events.EventBus) {
	bus.Subscribe("announce", a.onAnnounce, events.EventAnnounce)
}

func (a *Announcer) onAnnounce(ctx context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.AnnouncePayload)
	if !ok {
		return fmt.Errorf("unexpected announce payload %T", ev.Payload)
	}
	return a.Post(ctx, p)
}

// Post sends one report. Any status other than 2xx is an error.
func (a *Announcer) Post(ctx context.Context, p events.AnnouncePayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode announce: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create announce request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, protocol.NetworkVersion))

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("announce request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("announce returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	logger.Debug().
		Str("url", a.url).
		Str("status", p.Status).
		Int("clients", p.ConnectedClients).
		Msg("announced")
	return nil
}
