// Package audit decouples audit recording from request handling: handlers
// publish records to an in-process bus and a writer persists them, so an
// aborted caller never loses its audit trail.
package audit

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/stepflow/gateway/pkg/storage"
)

const (
	topicAuthAttempts = "audit.auth_attempts"
	topicCalls        = "audit.calls"
	topicCallbacks    = "audit.callbacks"
)

// Bus is the publisher half of the audit pipeline. Recording never blocks
// on storage and never fails the request being audited.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *log.Logger
}

// NewBus returns a bus backed by an in-process channel with the given
// buffer size.
func NewBus(bufferSize int64, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            bufferSize,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NewStdLoggerWithOut(logger.Writer(), false, false))
	return &Bus{pubsub: pubsub, logger: logger}
}

// RecordAuthAttempt publishes one authentication attempt.
func (b *Bus) RecordAuthAttempt(_ context.Context, record storage.AuthLogRecord) {
	b.publish(topicAuthAttempts, record)
}

// RecordCall publishes one outbound call outcome.
func (b *Bus) RecordCall(_ context.Context, record storage.CallLogRecord) {
	b.publish(topicCalls, record)
}

// RecordCallback publishes one OAuth2 callback outcome.
func (b *Bus) RecordCallback(_ context.Context, record storage.CallbackLogRecord) {
	b.publish(topicCallbacks, record)
}

func (b *Bus) publish(topic string, record interface{}) {
	payload, err := json.Marshal(record)
	if err != nil {
		b.logger.Printf("marshaling audit record topic=%s err=%v", topic, err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.Printf("publishing audit record topic=%s err=%v", topic, err)
	}
}

// Close shuts the bus down after in-flight messages are handled.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
