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
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"dominion/internal/config"
	"dominion/internal/domain"
	"dominion/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type hookKey struct {
	game string
	idx  int
}

// WebhookDispatcher polls the event log of every active game and posts new
// events to the webhooks configured for that game.
type WebhookDispatcher struct {
	repo     repo.Repo
	logger   *log.Logger
	interval time.Duration
	client   *http.Client
	started  time.Time

	mu      sync.Mutex
	cursors map[hookKey]int64
}

func NewWebhookDispatcher(r repo.Repo, logger *log.Logger, interval time.Duration) *WebhookDispatcher {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	return &WebhookDispatcher{
		repo:     r,
		logger:   logger,
		interval: interval,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		started:  time.Now().UTC(),
		cursors:  make(map[hookKey]int64),
	}
}

// Run delivers until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchAll makes one delivery pass over every active game.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	games, err := d.repo.ListGames(ctx, domain.GameActive, 200, "", "")
	if err != nil {
		d.logger.Printf("webhook: list games failed: %v", err)
		return
	}
	for _, g := range games {
		cfg, err := d.repo.GetGameConfig(ctx, g.ID)
		if err != nil {
			d.logger.Printf("webhook: game=%s config failed: %v", g.ID, err)
			continue
		}
		for i, hook := range cfg.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			d.dispatchWebhook(ctx, g, i, hook)
		}
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, g domain.Game, idx int, hook config.WebhookConfig) {
	key := hookKey{game: g.ID, idx: idx}
	cursor := d.cursorFor(ctx, key, g)
	events, err := d.repo.EventsAfter(ctx, g.ID, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger.Printf("webhook: fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(string(evt.Type())) {
			d.setCursor(key, evt.Seq)
			continue
		}
		if err := d.postEvent(ctx, g.ID, hook, evt); err != nil {
			d.logger.Printf("webhook: deliver %s to %s failed: %v", evt.ID, hook.URL, err)
			return
		}
		d.setCursor(key, evt.Seq)
	}
}

// cursorFor starts games that existed before the dispatcher at their latest
// event; newer games are delivered from the beginning.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, key hookKey, g domain.Game) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur
	}
	var cur int64
	if created, err := time.Parse(time.RFC3339, g.CreatedAt); err != nil || created.Before(d.started.Truncate(time.Second)) {
		cur, err = d.repo.LatestSeq(ctx, g.ID)
		if err != nil {
			d.logger.Printf("webhook: init cursor failed: %v", err)
			cur = 0
		}
	}
	d.cursors[key] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(key hookKey, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	GameID string       `json:"game_id"`
	Event  domain.Event `json:"event"`
}

// Sign returns the X-Dominion-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, gameID string, hook config.WebhookConfig, evt domain.Event) error {
	data, err := json.Marshal(webhookEvent{GameID: gameID, Event: evt})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dominion-Event", string(evt.Type()))
	req.Header.Set("X-Dominion-Delivery", evt.ID)
	req.Header.Set("X-Dominion-Game", gameID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Dominion-Signature", Sign(hook.Secret, data))
	}
	res, err := client.Do(req)
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

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
