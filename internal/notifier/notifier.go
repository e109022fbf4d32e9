package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"netmaster/internal/models"
)

type Message struct {
	Subject  string
	Text     string
	Hostname string
	Alert    models.Alert
}

// Sender delivers a message over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type ConfigSource interface {
	ListNotificationConfigs(ctx context.Context) ([]models.NotificationConfig, error)
	NotificationConfig(ctx context.Context, typ string) (*models.NotificationConfig, error)
}

// Factory builds a Sender from the opaque JSON stored for its channel type.
type Factory func(raw json.RawMessage) (Sender, error)

// Dispatcher resolves the enabled channels from stored configuration on
// every call, so edits through the API apply to the next alert.
type Dispatcher struct {
	store     ConfigSource
	factories map[string]Factory
}

func NewDispatcher(store ConfigSource, httpClient *http.Client, smtpDefaults SMTPDefaults) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	d := &Dispatcher{store: store, factories: map[string]Factory{}}
	d.Register(TypeTelegram, func(raw json.RawMessage) (Sender, error) {
		t, err := TelegramFromConfig(raw)
		if err != nil {
			return nil, err
		}
		t.HTTP = httpClient
		return t, nil
	})
	d.Register(TypeEmail, func(raw json.RawMessage) (Sender, error) {
		return EmailFromConfig(raw, smtpDefaults)
	})
	return d
}

func (d *Dispatcher) Register(typ string, f Factory) {
	d.factories[typ] = f
}

func (d *Dispatcher) Supports(typ string) bool {
	_, ok := d.factories[typ]
	return ok
}

// Senders returns a Sender for every enabled and well-formed channel.
// Channels whose configuration cannot be used are reported in the error
// alongside the usable ones.
func (d *Dispatcher) Senders(ctx context.Context) ([]Sender, error) {
	cfgs, err := d.store.ListNotificationConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var out []Sender
	var bad []error
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		f, ok := d.factories[c.Type]
		if !ok {
			continue
		}
		s, err := f(c.Config)
		if err != nil {
			bad = append(bad, fmt.Errorf("%s: %w", c.Type, err))
			continue
		}
		out = append(out, s)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("unusable notification config: %v", bad)
	}
	return out, nil
}

// Test sends msg over a single configured channel regardless of its
// enabled flag.
func (d *Dispatcher) Test(ctx context.Context, typ string, msg Message) error {
	f, ok := d.factories[typ]
	if !ok {
		return fmt.Errorf("unknown notification type %q", typ)
	}
	cfg, err := d.store.NotificationConfig(ctx, typ)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%s not configured", typ)
	}
	s, err := f(cfg.Config)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}

func AlertMessage(a models.Alert, hostname string) Message {
	if hostname == "" {
		hostname = a.HostID
	}
	return Message{
		Subject:  fmt.Sprintf("NetMaster alert: threshold exceeded on %s", a.HostID),
		Text:     fmt.Sprintf("Host %s (%s) exceeded the %s threshold.\nCurrent value: %.2f%%\nThreshold: %.2f%%\nTimestamp: %s", hostname, a.HostID, a.Metric, a.ObservedValue, a.LimitValue, a.Timestamp.UTC().Format("2006-01-02 15:04:05")),
		Hostname: hostname,
		Alert:    a,
	}
}
