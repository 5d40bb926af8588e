package cache

import (
	"context"
	"encoding/json"
	"time"

	"crashgame/internal/game"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = time.Second

// envelope is the pub/sub wire form. An empty UserID means broadcast.
type envelope struct {
	UserID string     `json:"user_id,omitempty"`
	Event  game.Event `json:"event"`
}

// inbound mirrors envelope but keeps the payload raw so it is forwarded
// without a decode into the concrete event type.
type inbound struct {
	UserID string `json:"user_id"`
	Event  struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"event"`
}

const publishQueue = 1024

// Publisher is a game.Broadcaster that publishes events on a Redis channel
// so every instance's hub can deliver them. Broadcast and SendToUser only
// queue; Run does the publishing, in order, off the caller's goroutine.
type Publisher struct {
	client  *redis.Client
	channel string
	queue   chan envelope
	log     *zap.Logger
}

func NewPublisher(client *redis.Client, channel string, log *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		queue:   make(chan envelope, publishQueue),
		log:     log.Named("relay"),
	}
}

func (p *Publisher) Broadcast(e game.Event) {
	p.enqueue(envelope{Event: e})
}

func (p *Publisher) SendToUser(userID string, e game.Event) {
	if userID == "" {
		return
	}
	p.enqueue(envelope{UserID: userID, Event: e})
}

func (p *Publisher) enqueue(env envelope) {
	select {
	case p.queue <- env:
	default:
		p.log.Warn("publish queue full, dropping event", zap.String("type", env.Event.Type))
	}
}

// Run publishes queued events until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.queue:
			p.publish(ctx, env)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		p.log.Error("marshal event", zap.String("type", env.Event.Type), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn("publish event", zap.String("type", env.Event.Type), zap.Error(err))
	}
}

// Subscribe relays events from channel into sink until ctx is done. The
// subscription is confirmed before Subscribe returns.
func Subscribe(ctx context.Context, client *redis.Client, channel string, sink game.Broadcaster, log *zap.Logger) error {
	log = log.Named("relay")

	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				relay(msg.Payload, sink, log)
			}
		}
	}()
	return nil
}

func relay(payload string, sink game.Broadcaster, log *zap.Logger) {
	var in inbound
	if err := json.Unmarshal([]byte(payload), &in); err != nil || in.Event.Type == "" {
		log.Warn("dropping malformed relay message", zap.Error(err))
		return
	}

	e := game.Event{Type: in.Event.Type, Data: in.Event.Data}
	if in.UserID != "" {
		sink.SendToUser(in.UserID, e)
		return
	}
	sink.Broadcast(e)
}
