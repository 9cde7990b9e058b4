package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"patron/pkg/platform/circuit"
)

// ErrBrokerUnavailable is returned while the broker breaker is open and no
// trial call is due.
var ErrBrokerUnavailable = errors.New("event broker unavailable")

// RecordProducer is the slice of the Kafka producer the listener needs.
type RecordProducer interface {
	Produce(ctx context.Context, key, value []byte, headers map[string]string) error
}

// KafkaListener publishes each event as a JSON record keyed by customer id.
type KafkaListener struct {
	producer RecordProducer
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type KafkaOption func(*KafkaListener)

// WithBreaker guards Produce with b. Events are dropped while it is open.
func WithBreaker(b *circuit.Breaker) KafkaOption {
	return func(k *KafkaListener) {
		k.breaker = b
	}
}

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(k *KafkaListener) {
		k.logger = logger
	}
}

func NewKafkaListener(producer RecordProducer, opts ...KafkaOption) *KafkaListener {
	k := &KafkaListener{producer: producer}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *KafkaListener) Handle(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if k.breaker != nil && !k.breaker.Allow() {
		return ErrBrokerUnavailable
	}
	headers := map[string]string{
		"event_type": string(e.Type),
		"event_id":   e.ID,
	}
	err = k.producer.Produce(ctx, []byte(e.CustomerID.String()), value, headers)
	k.record(ctx, err)
	return err
}

func (k *KafkaListener) record(ctx context.Context, err error) {
	if k.breaker == nil {
		return
	}
	var change circuit.StateChange
	if err != nil {
		_, change = k.breaker.RecordFailure()
	} else {
		_, change = k.breaker.RecordSuccess()
	}
	if k.logger == nil {
		return
	}
	switch {
	case change.Opened:
		k.logger.WarnContext(ctx, "event broker circuit opened", "breaker", k.breaker.Name(), "error", err)
	case change.Closed:
		k.logger.InfoContext(ctx, "event broker circuit closed", "breaker", k.breaker.Name())
	}
}
