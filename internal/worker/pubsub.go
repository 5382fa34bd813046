package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/skyboard/skyboard/internal/weather"
)

// Command names accepted on the command subscription.
const (
	CommandSelect  = "select"
	CommandRefresh = "refresh"
)

// ErrUnknownCommand is returned for messages naming an unsupported command.
var ErrUnknownCommand = errors.New("unknown command")

// Commander is the orchestrator surface driven by remote commands.
type Commander interface {
	Select(city weather.CityRef) error
	RefreshNow() error
}

// CommandMessage is the JSON payload of a command.
type CommandMessage struct {
	Command string       `json:"command" validate:"required,oneof=select refresh"`
	City    *CityPayload `json:"city,omitempty" validate:"required_if=Command select"`
}

// CityPayload identifies a city in a command.
type CityPayload struct {
	ID      string  `json:"id"`
	Name    string  `json:"name" validate:"required"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon     float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// CityRef converts the payload to a weather city reference.
func (p CityPayload) CityRef() weather.CityRef {
	coord := weather.Coordinate{Lat: p.Lat, Lon: p.Lon}
	id := p.ID
	if id == "" {
		id = coord.ID()
	}
	return weather.CityRef{ID: id, Name: p.Name, Country: p.Country, Coord: coord}
}

// CommandDispatcher decodes, validates and applies commands.
type CommandDispatcher struct {
	commander Commander
	validate  *validator.Validate
}

// NewCommandDispatcher creates a dispatcher for the given commander.
func NewCommandDispatcher(commander Commander) *CommandDispatcher {
	return &CommandDispatcher{commander: commander, validate: validator.New()}
}

// Dispatch applies one raw command message. Malformed and unknown commands
// return errors wrapping ErrUnknownCommand so callers can drop them.
func (d *CommandDispatcher) Dispatch(data []byte) (string, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(data, &cmd); err != nil {
		return "", fmt.Errorf("%w: decoding message: %v", ErrUnknownCommand, err)
	}
	if err := d.validate.Struct(cmd); err != nil {
		return cmd.Command, fmt.Errorf("%w: %v", ErrUnknownCommand, err)
	}

	switch cmd.Command {
	case CommandSelect:
		return cmd.Command, d.commander.Select(cmd.City.CityRef())
	case CommandRefresh:
		return cmd.Command, d.commander.RefreshNow()
	default:
		return cmd.Command, ErrUnknownCommand
	}
}

// PubSubHandler receives orchestrator commands from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *CommandDispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Commander        Commander
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewCommandDispatcher(cfg.Commander),
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting command subscriber")

	return h.subscriber.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		h.handleMessage(msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	command, err := h.dispatcher.Dispatch(msg.Data)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		logger.Warn().Err(err).Msg("dropping invalid command")
		msg.Ack() // redelivery cannot fix a malformed message
	case err != nil:
		logger.Error().Err(err).Str("command", command).Msg("command failed")
		msg.Nack()
	default:
		logger.Info().Str("command", command).Msg("command applied")
		msg.Ack()
	}
}
