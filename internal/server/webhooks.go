package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"bountyboard/internal/domain"
	"bountyboard/internal/engine"
	"bountyboard/internal/metrics"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher tails the event log and notifies the callback URLs
// registered on each bounty. Deliveries are at-least-once: the cursor only
// advances past an event when every interested callback accepted it.
type webhookDispatcher struct {
	engine        *engine.Engine
	signingSecret string
	client        *http.Client
	log           *slog.Logger

	mu     sync.Mutex
	cursor int64
}

func startWebhookDispatcher(ctx context.Context, e *engine.Engine, signingSecret string, timeout time.Duration, log *slog.Logger) {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	d := &webhookDispatcher{
		engine:        e,
		signingSecret: signingSecret,
		client:        &http.Client{Timeout: timeout},
		log:           log,
	}
	go d.run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatch(ctx context.Context) {
	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()
	events, err := d.engine.Repo.EventsAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.log.Warn("webhook: fetch events failed", "error", err)
		return
	}
	for _, evt := range events {
		if evt.EntityKind == "bounty" {
			if err := d.deliverBountyEvent(ctx, evt); err != nil {
				d.log.Warn("webhook: delivery failed", "event_id", evt.ID, "error", err)
				return
			}
		}
		d.mu.Lock()
		d.cursor = evt.ID
		d.mu.Unlock()
	}
}

func (d *webhookDispatcher) deliverBountyEvent(ctx context.Context, evt domain.Event) error {
	b, err := d.engine.GetBounty(ctx, evt.EntityID)
	if err != nil {
		// The event outlived the data it refers to; skip it.
		return nil
	}
	for _, target := range callbackTargets(evt.Type, b) {
		if err := d.post(ctx, target, evt, b); err != nil {
			metrics.WebhookDeliveries.WithLabelValues("error").Inc()
			return err
		}
		metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	}
	return nil
}

// callbackTargets picks who to notify. Posters hear about everything on
// their bounty; claimers hear about transitions after their claim.
func callbackTargets(evtType string, b domain.Bounty) []string {
	var targets []string
	if b.PosterCallbackURL != nil && *b.PosterCallbackURL != "" && evtType != "bounty.created" {
		targets = append(targets, *b.PosterCallbackURL)
	}
	if b.ClaimerCallback != nil && *b.ClaimerCallback != "" {
		switch evtType {
		case "bounty.matched", "bounty.fulfilled", "bounty.cancelled", "bounty.expired":
			targets = append(targets, *b.ClaimerCallback)
		}
	}
	return targets
}

type webhookEvent struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	TS      string          `json:"ts"`
	Payload json.RawMessage `json:"payload"`
	Bounty  domain.Bounty   `json:"bounty"`
}

func (d *webhookDispatcher) post(ctx context.Context, url string, evt domain.Event, b domain.Bounty) error {
	if err := validateCallbackURL(url); err != nil {
		// The stored URL no longer passes the guard; drop, don't retry.
		d.log.Warn("webhook: skipping disallowed callback url", "event_id", evt.ID)
		return nil
	}
	payload := json.RawMessage("{}")
	if json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:      evt.ID,
		Type:    evt.Type,
		TS:      evt.TS,
		Payload: payload,
		Bounty:  b,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bountyboard-Event", evt.Type)
	req.Header.Set("X-Bountyboard-Delivery", fmt.Sprintf("%d", evt.ID))
	if d.signingSecret != "" {
		req.Header.Set("X-Bountyboard-Signature", signPayload(d.signingSecret, data))
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
