package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alerts "coldchain-cloud/internal/alerts/domain"
	assets "coldchain-cloud/internal/assets/domain"
	"coldchain-cloud/internal/observability/metrics"
)

const defaultSendTimeout = 20 * time.Second

// ColdCellReader loads cold cells.
type ColdCellReader interface {
	Get(ctx context.Context, id string) (*assets.ColdCell, error)
}

// EscalationConfigReader loads per-customer escalation configuration.
type EscalationConfigReader interface {
	Get(ctx context.Context, customerID string) (*assets.EscalationConfig, error)
}

// Dispatcher fans one escalation layer out over its channels and contacts.
type Dispatcher struct {
	channels     map[ChannelKind]Channel
	cells        ColdCellReader
	configs      EscalationConfigReader
	template     *Template
	dashboardURL string
	sendTimeout  time.Duration
	logger       *zap.Logger
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTemplate overrides the message template.
func WithTemplate(tpl *Template) DispatcherOption {
	return func(d *Dispatcher) {
		if tpl != nil {
			d.template = tpl
		}
	}
}

// WithDashboardURL sets the link base included in messages.
func WithDashboardURL(url string) DispatcherOption {
	return func(d *Dispatcher) {
		d.dashboardURL = strings.TrimRight(url, "/")
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithDispatcherLogger assigns a logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher over channels. A kind without a
// channel is skipped at dispatch time.
func NewDispatcher(cells ColdCellReader, configs EscalationConfigReader, channels []Channel, opts ...DispatcherOption) (*Dispatcher, error) {
	if cells == nil {
		return nil, errors.New("dispatcher: nil cold cell reader")
	}
	if configs == nil {
		return nil, errors.New("dispatcher: nil escalation config reader")
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		channels:    make(map[ChannelKind]Channel, len(channels)),
		cells:       cells,
		configs:     configs,
		template:    tpl,
		sendTimeout: defaultSendTimeout,
		logger:      zap.NewNop(),
	}
	for _, channel := range channels {
		if channel != nil {
			d.channels[channel.Kind()] = channel
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch sends the layer's notifications. Channels run concurrently; the
// returned error joins every failed delivery. Unreachable contacts and
// unconfigured channels are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, alert alerts.Alert, layer alerts.Layer) error {
	if d == nil {
		return errors.New("dispatcher: nil")
	}
	cfg, err := d.configs.Get(ctx, alert.CustomerID)
	if err != nil {
		return fmt.Errorf("dispatcher: load escalation config: %w", err)
	}
	if cfg == nil {
		defaults := assets.DefaultEscalationConfig(alert.CustomerID)
		cfg = &defaults
	}
	contacts := ContactsFor(*cfg, layer)
	if len(contacts) == 0 {
		d.logger.Warn("no contacts for escalation layer",
			zap.String("alert_id", alert.ID),
			zap.String("customer_id", alert.CustomerID),
			zap.Int("layer", int(layer)),
		)
		return nil
	}

	subject, body, err := d.render(ctx, alert, layer)
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, kind := range ChannelsFor(layer) {
		channel, ok := d.channels[kind]
		if !ok {
			d.logger.Warn("notification channel not configured", zap.String("channel", string(kind)))
			for range contacts {
				metrics.IncDispatch(string(kind), metrics.DispatchSkipped)
			}
			continue
		}
		g.Go(func() error {
			for _, contact := range contacts {
				msg := Message{AlertID: alert.ID, Layer: layer, Subject: subject, Body: body, Contact: contact}
				err := d.send(ctx, channel, msg)
				switch {
				case err == nil:
					metrics.IncDispatch(string(channel.Kind()), metrics.DispatchSent)
				case errors.Is(err, ErrNoAddress):
					metrics.IncDispatch(string(channel.Kind()), metrics.DispatchSkipped)
				default:
					metrics.IncDispatch(string(channel.Kind()), metrics.DispatchFailed)
					d.logger.Warn("notification send failed",
						zap.String("alert_id", alert.ID),
						zap.String("channel", string(channel.Kind())),
						zap.String("contact", contact.Name),
						zap.Error(err),
					)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s to %s: %w", channel.Kind(), contact.Name, err))
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, channel Channel, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return channel.Send(sendCtx, msg)
}

func (d *Dispatcher) render(ctx context.Context, alert alerts.Alert, layer alerts.Layer) (string, string, error) {
	cellName := alert.ColdCellID
	cell, err := d.cells.Get(ctx, alert.ColdCellID)
	if err != nil {
		d.logger.Warn("load cold cell for notification failed",
			zap.String("cold_cell_id", alert.ColdCellID), zap.Error(err))
	} else if cell != nil && cell.Name != "" {
		cellName = cell.Name
	}

	data := TemplateData{
		AlertID:       alert.ID,
		ColdCell:      cellName,
		ColdCellID:    alert.ColdCellID,
		AlertType:     string(alert.Type),
		ObservedValue: formatValue(alert.Type, alert.ObservedValue),
		Threshold:     formatValue(alert.Type, alert.Threshold),
		TriggeredAt:   alert.TriggeredAt.UTC().Format(time.RFC3339),
		Layer:         int(layer),
		Status:        string(alert.Status),
		Acknowledged:  alert.Acknowledged(),
		Suggestion:    suggestionFor(alert.Type),
		EventLabel:    fmt.Sprintf("layer %d", layer),
	}
	if d.dashboardURL != "" {
		data.DashboardURL = d.dashboardURL + "/alerts/" + alert.ID
	}
	body, err := d.template.Render(data)
	if err != nil {
		return "", "", fmt.Errorf("dispatcher: render: %w", err)
	}
	subject := fmt.Sprintf("%s on %s (layer %d)", alert.Type, cellName, layer)
	return subject, body, nil
}

func formatValue(alertType alerts.Type, value float64) string {
	switch alertType {
	case alerts.TypeHighTemp, alerts.TypeLowTemp:
		return fmt.Sprintf("%.1f °C", value)
	case alerts.TypeDoorOpen:
		return fmt.Sprintf("%.0f s", value)
	default:
		return "-"
	}
}

func suggestionFor(alertType alerts.Type) string {
	switch alertType {
	case alerts.TypeHighTemp:
		return "Check the cooling unit and keep the door closed."
	case alerts.TypeLowTemp:
		return "Check the thermostat setting and defrost cycle."
	case alerts.TypePowerLoss:
		return "Check the power supply of the cold cell."
	case alerts.TypeSensorError:
		return "Inspect the sensor and its wiring."
	case alerts.TypeDoorOpen:
		return "Close the door of the cold cell."
	default:
		return "Inspect the cold cell."
	}
}
