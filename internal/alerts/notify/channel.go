package notify

import (
	"context"
	"errors"

	alerts "coldchain-cloud/internal/alerts/domain"
	assets "coldchain-cloud/internal/assets/domain"
)

// ErrNoAddress reports that a contact cannot be reached over a channel.
// The dispatcher counts it as a skip, not a failure.
var ErrNoAddress = errors.New("notify: contact has no address for channel")

// ChannelKind names a delivery capability.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
	ChannelPush  ChannelKind = "push"
	ChannelSMS   ChannelKind = "sms"
	ChannelVoice ChannelKind = "voice"
)

// Message is one rendered notification for one contact.
type Message struct {
	AlertID string
	Layer   alerts.Layer
	Subject string
	Body    string
	Contact assets.Contact
}

// Channel delivers a message over one capability.
type Channel interface {
	Kind() ChannelKind
	Send(ctx context.Context, msg Message) error
}

// AddressFor returns the address of contact on kind, empty when unreachable.
func AddressFor(kind ChannelKind, contact assets.Contact) string {
	switch kind {
	case ChannelEmail:
		return contact.Email
	case ChannelSMS, ChannelVoice:
		return contact.Phone
	case ChannelPush:
		if contact.Email != "" {
			return contact.Email
		}
		return contact.Phone
	default:
		return ""
	}
}
