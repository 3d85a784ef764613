// Package notification forwards selected audit events (lockouts, failed PIN
// attempts) to external channels so the owner hears about them away from the
// desk. Delivery is asynchronous and never blocks the dispatcher.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/secrets"
)

// ErrQueueFull is returned by Record when the delivery queue is saturated.
var ErrQueueFull = errors.New("notification queue full")

const (
	queueSize   = 64
	sendTimeout = 15 * time.Second
)

// Sender is one alert channel backend.
type Sender interface {
	// Type returns the channel type ("webhook", "slack", "telegram").
	Type() string
	// Name returns the configured channel name.
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// Message is the payload delivered to a channel.
type Message struct {
	Subject  string            // Used by webhook and as a heading by chat channels.
	Body     string            // Plain text body.
	Metadata map[string]string // Event fields (kind, action_kind, client...).
}

// FromEvent renders an audit event as a Message.
func FromEvent(e audit.Event) *Message {
	subject := "Warden: " + strings.ReplaceAll(string(e.Kind), "_", " ")
	var b strings.Builder
	switch e.Kind {
	case audit.KindLockout:
		fmt.Fprintf(&b, "Pending %s was cancelled after too many failed PIN attempts.", e.ActionKind)
	case audit.KindPINFailed:
		fmt.Fprintf(&b, "Incorrect PIN entered for %s.", e.ActionKind)
	default:
		fmt.Fprintf(&b, "Event %s", e.Kind)
		if e.ActionKind != "" {
			fmt.Fprintf(&b, " for %s", e.ActionKind)
		}
		b.WriteString(".")
	}
	if e.Client != "" {
		fmt.Fprintf(&b, "\nClient: %s", e.Client)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, "\n%s", e.Detail)
	}
	fmt.Fprintf(&b, "\nTime: %s", e.Timestamp.Format(time.RFC3339))

	return &Message{
		Subject: subject,
		Body:    b.String(),
		Metadata: map[string]string{
			"event_id":    e.ID,
			"kind":        string(e.Kind),
			"action_kind": string(e.ActionKind),
			"client":      e.Client,
			"pending_id":  e.PendingID,
		},
	}
}

// Notifier is an audit.Sink that queues matching events and delivers them to
// every sender from a background worker.
type Notifier struct {
	senders []Sender
	kinds   map[audit.Kind]struct{}
	logger  *slog.Logger

	mu     sync.RWMutex
	queue  chan audit.Event
	closed bool
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier for the given event kinds.
func NewNotifier(senders []Sender, kinds []audit.Kind, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		senders: senders,
		kinds:   make(map[audit.Kind]struct{}, len(kinds)),
		logger:  logger,
		queue:   make(chan audit.Event, queueSize),
	}
	for _, k := range kinds {
		n.kinds[k] = struct{}{}
	}
	return n
}

// New builds senders from cfg, resolving bot tokens through provider.
// Returns nil when no channel is configured.
func New(ctx context.Context, cfg *config.AlertsConfig, provider secrets.Provider, logger *slog.Logger) (*Notifier, error) {
	if cfg == nil || len(cfg.Channels) == 0 {
		return nil, nil
	}
	senders := make([]Sender, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		s, err := newSender(ctx, ch, provider, logger)
		if err != nil {
			return nil, fmt.Errorf("alert channel %q: %w", ch.Name, err)
		}
		senders = append(senders, s)
	}
	kinds := make([]audit.Kind, 0, len(cfg.EventKinds()))
	for _, k := range cfg.EventKinds() {
		kinds = append(kinds, audit.Kind(k))
	}
	return NewNotifier(senders, kinds, logger), nil
}

func newSender(ctx context.Context, ch config.AlertChannelConfig, provider secrets.Provider, logger *slog.Logger) (Sender, error) {
	switch ch.Type {
	case config.AlertChannelWebhook:
		return NewWebhookSender(ch.Name, ch.URL, ch.AllowPrivate, logger), nil
	case config.AlertChannelSlack, config.AlertChannelTelegram:
		token, err := provider.Resolve(ctx, ch.TokenRef)
		if err != nil {
			return nil, fmt.Errorf("resolving token: %w", err)
		}
		if ch.Type == config.AlertChannelSlack {
			return NewSlackSender(ch.Name, token.Value, ch.ChannelID, logger), nil
		}
		return NewTelegramSender(ch.Name, token.Value, ch.ChatID, logger), nil
	default:
		return nil, fmt.Errorf("unsupported channel type %q", ch.Type)
	}
}

// Start launches the delivery worker. It exits when Close is called.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for e := range n.queue {
			n.deliver(ctx, FromEvent(e))
		}
	}()
}

// Record queues e if its kind is selected. It never blocks.
func (n *Notifier) Record(_ context.Context, e audit.Event) error {
	if _, ok := n.kinds[e.Kind]; !ok {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil
	}
	select {
	case n.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, msg *Message) {
	for _, s := range n.senders {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		err := s.Send(sendCtx, msg)
		cancel()
		if err != nil {
			n.logger.Warn("alert delivery failed",
				slog.String("channel", s.Name()),
				slog.String("type", s.Type()),
				slog.String("kind", msg.Metadata["kind"]),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Info("alert sent",
			slog.String("channel", s.Name()),
			slog.String("type", s.Type()),
			slog.String("kind", msg.Metadata["kind"]),
		)
	}
}
