package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogChannel writes notifications to the log. It stands in for gateways
// that are not configured.
type LogChannel struct {
	kind   ChannelKind
	logger *zap.Logger
}

// NewLogChannel constructs a log channel.
func NewLogChannel(kind ChannelKind, logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{kind: kind, logger: logger}
}

// Kind implements Channel.
func (l *LogChannel) Kind() ChannelKind {
	return l.kind
}

// Send implements Channel.
func (l *LogChannel) Send(_ context.Context, msg Message) error {
	to := AddressFor(l.kind, msg.Contact)
	if to == "" {
		return ErrNoAddress
	}
	l.logger.Info("notification",
		zap.String("channel", string(l.kind)),
		zap.String("to", to),
		zap.String("alert_id", msg.AlertID),
		zap.Int("layer", int(msg.Layer)),
		zap.String("subject", msg.Subject),
	)
	return nil
}
