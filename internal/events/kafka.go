package events

import (
	"context"
	"encoding/json"
	"time"

	"crashgame/internal/game"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// auditRecord is the value written to the audit topic.
type auditRecord struct {
	Type     string      `json:"type"`
	UserID   string      `json:"user_id,omitempty"`
	Data     interface{} `json:"data"`
	TsUnixMs int64       `json:"ts_unix_ms"`
}

// KafkaSink appends round and settlement events to an audit topic. Ticks,
// balance pushes and notifications are transient and not recorded.
type KafkaSink struct {
	w   messageWriter
	log *zap.Logger
	now func() time.Time
}

func NewWriter(brokers []string, topic string, log *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("audit write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

func NewKafkaSink(w *kafka.Writer, log *zap.Logger) *KafkaSink {
	return &KafkaSink{w: w, log: log.Named("audit"), now: time.Now}
}

func (k *KafkaSink) Broadcast(e game.Event) {
	k.write("", e)
}

func (k *KafkaSink) SendToUser(userID string, e game.Event) {
	k.write(userID, e)
}

func (k *KafkaSink) Close() error {
	return k.w.Close()
}

func (k *KafkaSink) write(userID string, e game.Event) {
	if !audited(e.Type) {
		return
	}

	value, err := json.Marshal(auditRecord{
		Type:     e.Type,
		UserID:   userID,
		Data:     e.Data,
		TsUnixMs: k.now().UnixMilli(),
	})
	if err != nil {
		k.log.Error("marshal audit record", zap.String("type", e.Type), zap.Error(err))
		return
	}

	msg := kafka.Message{Key: []byte(e.Type), Value: value}
	if err := k.w.WriteMessages(context.Background(), msg); err != nil {
		k.log.Warn("audit write", zap.String("type", e.Type), zap.Error(err))
	}
}

func audited(eventType string) bool {
	switch eventType {
	case game.EventRoundStarting, game.EventRoundStarted, game.EventRoundCrashed,
		game.EventBetPlaced, game.EventBetCashedOut:
		return true
	}
	return false
}
