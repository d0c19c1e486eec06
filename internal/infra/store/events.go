package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LogEventPublisher is the in-process stand-in for the event bus: it
// logs each event and fans it out to any registered subscriber
// channels. Downstream consumers (analytics, notifications) live
// outside this service.
type LogEventPublisher struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs []chan<- PublishedEvent
}

// PublishedEvent pairs a transaction id with its serialized event.
type PublishedEvent struct {
	TransactionID string
	Payload       []byte
}

// NewLogEventPublisher creates an event publisher writing to logger.
func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	return &LogEventPublisher{logger: logger}
}

// Subscribe registers a channel to receive every published event.
// Slow subscribers drop events rather than block the request path.
func (p *LogEventPublisher) Subscribe(ch chan<- PublishedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, ch)
}

func (p *LogEventPublisher) PublishTransactionEvent(ctx context.Context, transactionID string, event []byte) error {
	p.logger.Debug("transaction event",
		zap.String("transaction_id", transactionID),
		zap.ByteString("event", event),
	)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- PublishedEvent{TransactionID: transactionID, Payload: event}:
		default:
		}
	}
	return nil
}
