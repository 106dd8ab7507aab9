package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type providerRequest struct {
	To      string `json:"to"`
	Type    string `json:"type"`
	AlertID string `json:"alert_id"`
	Layer   int    `json:"layer"`
	Text    string `json:"text"`
}

type providerResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ProviderChannel sends SMS or voice calls through a telephony gateway.
type ProviderChannel struct {
	kind   ChannelKind
	client *resty.Client
}

// NewProviderChannel constructs a gateway channel. token is sent as a bearer token.
func NewProviderChannel(kind ChannelKind, baseURL, token string) (*ProviderChannel, error) {
	if baseURL == "" {
		return nil, errors.New("provider channel: empty base url")
	}
	if kind != ChannelSMS && kind != ChannelVoice {
		return nil, fmt.Errorf("provider channel: unsupported kind %q", kind)
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &ProviderChannel{kind: kind, client: client}, nil
}

// Kind implements Channel.
func (p *ProviderChannel) Kind() ChannelKind {
	return p.kind
}

// Send implements Channel. Voice calls read a shortened text.
func (p *ProviderChannel) Send(ctx context.Context, msg Message) error {
	to := AddressFor(p.kind, msg.Contact)
	if to == "" {
		return ErrNoAddress
	}
	text := msg.Body
	if p.kind == ChannelVoice {
		text = msg.Subject
	}
	var result providerResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(providerRequest{
			To:      to,
			Type:    string(p.kind),
			AlertID: msg.AlertID,
			Layer:   int(msg.Layer),
			Text:    text,
		}).
		SetResult(&result).
		SetError(&result).
		Post("/v1/messages")
	if err != nil {
		return fmt.Errorf("provider channel %s: %w", p.kind, err)
	}
	if resp.IsError() {
		return fmt.Errorf("provider channel %s: status %d: %s", p.kind, resp.StatusCode(), result.Error)
	}
	return nil
}
