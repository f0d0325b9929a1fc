package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/helpers"
)

// SessionEventHandler reacts to session events coming off the bus.
type SessionEventHandler interface {
	HandleTurnAppended(ctx context.Context, e Event) error
	HandlePendingChanged(ctx context.Context, e Event) error
	HandleCompletionFailed(ctx context.Context, e Event) error
	// HandleSessionChanged covers reset, load and archive outcomes.
	HandleSessionChanged(ctx context.Context, e Event) error
	HandleHistoryUpdated(ctx context.Context, e Event) error
}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
	out        io.Writer
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		r.logger = helpers.NewWatermill(log.Logger)
	}
}

// WithOutput sets where DumpRawEvents writes, stdout by default.
func WithOutput(w io.Writer) EventRouterOption {
	return func(r *EventRouter) {
		r.out = w
	}
}

// NewEventRouter builds an in-process router. Publishing blocks until every
// subscriber has acked, which keeps the events of one session in order.
func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
		out:    os.Stdout,
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Router closed")

	return nil
}

// NewSessionDispatchHandler parses events and dispatches them to handler.
// Undecodable payloads are logged and dropped.
func NewSessionDispatchHandler(handler SessionEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Str("message_id", msg.UUID).Str("payload", string(msg.Payload)).Err(err).
				Msg("Failed to parse session event from message payload")
			return nil
		}

		ctx := msg.Context()
		var handlerErr error
		switch e.Type {
		case EventTypeTurnAppended:
			handlerErr = handler.HandleTurnAppended(ctx, e)
		case EventTypePendingChanged:
			handlerErr = handler.HandlePendingChanged(ctx, e)
		case EventTypeCompletionFailed:
			handlerErr = handler.HandleCompletionFailed(ctx, e)
		case EventTypeArchived, EventTypeArchiveFailed, EventTypeSessionReset, EventTypeSessionLoaded:
			handlerErr = handler.HandleSessionChanged(ctx, e)
		case EventTypeHistoryUpdated:
			handlerErr = handler.HandleHistoryUpdated(ctx, e)
		default:
			log.Warn().Str("message_id", msg.UUID).Str("event_type", string(e.Type)).Msg("Unhandled session event type")
		}

		if handlerErr != nil {
			log.Error().Str("message_id", msg.UUID).Err(handlerErr).Msg("Error processing session event")
			return handlerErr
		}
		return nil
	}
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// DumpRawEvents prints every event as indented JSON. Unless verbose, the
// timestamp is dropped to keep the output short.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		return err
	}
	if !e.verbose {
		delete(s, "time")
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, string(s_))
	return err
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
