package history

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultFeedBuffer = 16

// ChangeNotification is published on a user's topic after every archive.
type ChangeNotification struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

func TopicForUser(userID string) string {
	return "history." + userID
}

// LiveStore wraps a Store and publishes a change notification for every
// successful Append. Subscribers re-list the store on each notification, so
// they always observe complete newest-first snapshots.
type LiveStore struct {
	Store
	pubSub    *gochannel.GoChannel
	publisher message.Publisher
	logger    zerolog.Logger
}

var _ LiveHistory = (*LiveStore)(nil)

type LiveStoreOption func(*liveStoreOptions)

type liveStoreOptions struct {
	logger zerolog.Logger
	buffer int64
}

func WithLogger(logger zerolog.Logger) LiveStoreOption {
	return func(o *liveStoreOptions) {
		o.logger = logger
	}
}

// WithFeedBuffer sets how many notifications may queue per subscriber.
func WithFeedBuffer(n int64) LiveStoreOption {
	return func(o *liveStoreOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func NewLiveStore(store Store, options ...LiveStoreOption) *LiveStore {
	opts := liveStoreOptions{
		logger: log.Logger,
		buffer: defaultFeedBuffer,
	}
	for _, o := range options {
		o(&opts)
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            opts.buffer,
		BlockPublishUntilSubscriberAck: false,
	}, helpers.NewWatermill(opts.logger.With().Str("component", "history-feed").Logger()))

	return &LiveStore{
		Store:     store,
		pubSub:    pubSub,
		publisher: helpers.CorrelationPublisherDecorator{Publisher: pubSub},
		logger:    opts.logger,
	}
}

func (l *LiveStore) Append(ctx context.Context, userID string, msgs turns.Conversation) (ArchivedConversation, error) {
	a, err := l.Store.Append(ctx, userID, msgs)
	if err != nil {
		return a, err
	}
	l.notify(ctx, a)
	return a, nil
}

// notify never fails the Append: the conversation is already stored and the
// next notification or re-subscribe picks it up.
func (l *LiveStore) notify(ctx context.Context, a ArchivedConversation) {
	payload, err := json.Marshal(ChangeNotification{UserID: a.UserID, ConversationID: a.ID})
	if err != nil {
		l.logger.Warn().Err(err).Msg("failed to marshal history notification")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(helpers.ContextWithCorrelationID(ctx, a.ID))
	if err := l.publisher.Publish(TopicForUser(a.UserID), msg); err != nil {
		l.logger.Warn().Err(err).Str("user_id", a.UserID).Msg("failed to publish history notification")
	}
}

// Subscribe delivers the current history of userID right away when it is
// not empty, then again after every archive. A failed listing is reported to
// onError wrapped in a *SubscriptionError and ends the subscription.
// Cancelling ctx behaves like Unsubscribe.
func (l *LiveStore) Subscribe(
	ctx context.Context,
	userID string,
	onChange func([]ArchivedConversation),
	onError func(error),
) (*Subscription, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if onChange == nil {
		return nil, errors.New("history: nil change callback")
	}

	subCtx, cancel := context.WithCancel(ctx)
	// subscribe before the first listing so no archive slips between them
	messages, err := l.pubSub.Subscribe(subCtx, TopicForUser(userID))
	if err != nil {
		cancel()
		return nil, &SubscriptionError{UserID: userID, Err: err}
	}

	sub := NewSubscription(cancel)
	go l.runFeed(subCtx, sub, userID, messages, onChange, onError)
	return sub, nil
}

func (l *LiveStore) runFeed(
	ctx context.Context,
	sub *Subscription,
	userID string,
	messages <-chan *message.Message,
	onChange func([]ArchivedConversation),
	onError func(error),
) {
	logger := l.logger.With().Str("user_id", userID).Logger()
	defer sub.Unsubscribe()

	push := func(initial bool) bool {
		list, err := l.List(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			subErr := &SubscriptionError{UserID: userID, Err: err}
			if sub.Terminate(subErr) {
				logger.Warn().Err(err).Msg("history feed terminated")
				if onError != nil {
					onError(subErr)
				}
			}
			return false
		}
		if initial && len(list) == 0 {
			return true
		}
		return sub.Deliver(func() { onChange(list) })
	}

	if !push(true) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			msg.Ack()
			// a burst of archives collapses into one listing
			for drained := false; !drained; {
				select {
				case next, ok := <-messages:
					if !ok {
						return
					}
					next.Ack()
				default:
					drained = true
				}
			}
			if !push(false) {
				return
			}
		}
	}
}

// Close shuts the change feed down and closes the wrapped store.
func (l *LiveStore) Close() error {
	feedErr := l.pubSub.Close()
	storeErr := l.Store.Close()
	if storeErr != nil {
		return storeErr
	}
	return feedErr
}
