package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// RelayConfig holds configuration for the JetStream event relay.
type RelayConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration // How long to keep mirrored events
}

// DefaultRelayConfig returns default relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		SubjectPrefix: "taprally.rooms",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// Relay mirrors room events onto a JetStream stream so external
// collaborators (result history sinks, spectator feeds) can consume them.
// The coordinator never depends on the relay for gameplay; publish errors
// are logged and swallowed.
type Relay struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config RelayConfig
}

// NewRelay connects to NATS and ensures the event stream exists.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := &Relay{nc: nc, js: js, config: cfg}

	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return r, nil
}

func (r *Relay) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Room event mirror for external consumers",
		Subjects:    []string{fmt.Sprintf("%s.>", r.config.SubjectPrefix)},
		MaxAge:      r.config.MaxAge,
		Storage:     jetstream.FileStorage,
	}

	_, err := r.js.CreateOrUpdateStream(ctx, sc)
	if err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	return nil
}

// Publish mirrors one event. Nil-safe so callers can hold a *Relay that was
// never configured.
func (r *Relay) Publish(ctx context.Context, event *Event) {
	if r == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event for relay")
		return
	}

	subject := fmt.Sprintf("%s.%s", r.config.SubjectPrefix, event.RoomID)
	if _, err := r.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("event_type", string(event.Type)).
			Msg("failed to publish event to relay")
	}
}

// Close drains the NATS connection.
func (r *Relay) Close() {
	if r == nil || r.nc == nil {
		return
	}
	r.nc.Close()
}
