package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// webhookPayload is the JSON body posted for every alert.
type webhookPayload struct {
	Channel string            `json:"channel"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Event   map[string]string `json:"event"`
	SentAt  time.Time         `json:"sent_at"`
}

// WebhookSender posts alerts as JSON to a configured URL. Hosts resolving to
// private or loopback addresses are refused unless allowPrivate is set.
type WebhookSender struct {
	name         string
	url          string
	allowPrivate bool
	client       *http.Client
	logger       *slog.Logger
}

func NewWebhookSender(name, rawURL string, allowPrivate bool, logger *slog.Logger) *WebhookSender {
	return &WebhookSender{
		name:         name,
		url:          rawURL,
		allowPrivate: allowPrivate,
		client: &http.Client{
			Timeout: 10 * time.Second,
			// A redirect could lead to an internal host.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: logger,
	}
}

func (s *WebhookSender) Type() string { return "webhook" }
func (s *WebhookSender) Name() string { return s.name }

func (s *WebhookSender) Send(ctx context.Context, msg *Message) error {
	if err := validateWebhookURL(s.url, s.allowPrivate); err != nil {
		return fmt.Errorf("webhook %s: %w", s.name, err)
	}
	body, err := json.Marshal(webhookPayload{
		Channel: s.name,
		Subject: msg.Subject,
		Text:    msg.Body,
		Event:   msg.Metadata,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "warden-alerts")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s returned %d: %s", s.name, resp.StatusCode, snippet)
	}
	return nil
}

func validateWebhookURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if allowPrivate {
		return nil
	}
	host := u.Hostname()
	if host == "localhost" {
		return fmt.Errorf("host %q not allowed", host)
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", host, err)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && !publicIP(ip) {
			return fmt.Errorf("address %s of %q not allowed", a, host)
		}
	}
	return nil
}

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast())
}
