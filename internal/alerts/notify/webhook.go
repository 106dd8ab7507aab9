package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Channel string      `json:"channel"`
	To      string      `json:"to"`
	Name    string      `json:"name,omitempty"`
	AlertID string      `json:"alert_id"`
	Layer   int         `json:"layer"`
	Subject string      `json:"subject"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts notifications to a gateway webhook, used for the
// email and push channels.
type WebhookChannel struct {
	kind   ChannelKind
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(kind ChannelKind, url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		kind:   kind,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Kind implements Channel.
func (w *WebhookChannel) Kind() ChannelKind {
	return w.kind
}

// Send posts the message as JSON.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	to := AddressFor(w.kind, msg.Contact)
	if to == "" {
		return ErrNoAddress
	}
	payload := webhookPayload{
		MsgType: "text",
		Channel: string(w.kind),
		To:      to,
		Name:    msg.Contact.Name,
		AlertID: msg.AlertID,
		Layer:   int(msg.Layer),
		Subject: msg.Subject,
		Text:    webhookText{Content: msg.Body},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
