package audit

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/stepflow/gateway/pkg/storage"
)

// Writer is the subscriber half: it drains the bus into the audit store
// and feeds call outcomes into the rolling endpoint statistics.
type Writer struct {
	Bus    *Bus
	Store  storage.AuditStore
	Logger *log.Logger
}

// NewWriter returns a writer persisting the bus into the given store.
func NewWriter(bus *Bus, store storage.AuditStore) *Writer {
	return &Writer{Bus: bus, Store: store, Logger: log.Default()}
}

// Run subscribes to every audit topic and persists until the context is
// cancelled. It blocks and is meant to run in its own goroutine.
func (w *Writer) Run(ctx context.Context) error {
	authAttempts, err := w.Bus.pubsub.Subscribe(ctx, topicAuthAttempts)
	if err != nil {
		return err
	}
	calls, err := w.Bus.pubsub.Subscribe(ctx, topicCalls)
	if err != nil {
		return err
	}
	callbacks, err := w.Bus.pubsub.Subscribe(ctx, topicCallbacks)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-authAttempts:
			if !ok {
				return nil
			}
			w.handleAuthAttempt(msg)
		case msg, ok := <-calls:
			if !ok {
				return nil
			}
			w.handleCall(msg)
		case msg, ok := <-callbacks:
			if !ok {
				return nil
			}
			w.handleCallback(msg)
		}
	}
}

func (w *Writer) handleAuthAttempt(msg *message.Message) {
	defer msg.Ack()
	var record storage.AuthLogRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		w.Logger.Printf("decoding auth attempt audit err=%v", err)
		return
	}
	if err := w.Store.CreateAuthLogs(context.Background(), []storage.AuthLogRecord{record}); err != nil {
		w.Logger.Printf("persisting auth attempt audit err=%v", err)
	}
}

func (w *Writer) handleCall(msg *message.Message) {
	defer msg.Ack()
	var record storage.CallLogRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		w.Logger.Printf("decoding call audit err=%v", err)
		return
	}
	ctx := context.Background()
	if err := w.Store.CreateCallLogs(ctx, []storage.CallLogRecord{record}); err != nil {
		w.Logger.Printf("persisting call audit err=%v", err)
	}
	if record.EndpointID == "" {
		return
	}
	// Transport failures carry no status code; they count toward call
	// volume but not toward the success or error split.
	hasStatus := record.StatusCode > 0
	if err := w.Store.RecordCallOutcome(ctx, record.EndpointID, record.StatusCode, hasStatus, record.LatencyMS); err != nil {
		w.Logger.Printf("recording call outcome endpoint=%s err=%v", record.EndpointID, err)
	}
}

func (w *Writer) handleCallback(msg *message.Message) {
	defer msg.Ack()
	var record storage.CallbackLogRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		w.Logger.Printf("decoding callback audit err=%v", err)
		return
	}
	if err := w.Store.CreateCallbackLogs(context.Background(), []storage.CallbackLogRecord{record}); err != nil {
		w.Logger.Printf("persisting callback audit err=%v", err)
	}
}
