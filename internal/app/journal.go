package app

import (
	"context"
	"time"

	"studynotify/internal/delivery"
	"studynotify/internal/eventbus"
	"studynotify/internal/storage"
	"studynotify/pkg/logx"
)

// journalRecord converts a delivery bus event. Queued events are skipped;
// the outcome is journaled when the message leaves the queue.
func journalRecord(e eventbus.Event) (storage.DeliveryRecord, bool) {
	if e.Type == delivery.EventQueued {
		return storage.DeliveryRecord{}, false
	}
	ev, ok := e.Data.(delivery.Event)
	if !ok {
		return storage.DeliveryRecord{}, false
	}
	at := ev.At
	if at.IsZero() {
		at = e.Time
	}
	return storage.DeliveryRecord{
		At:          at,
		Event:       e.Type,
		HandleID:    ev.HandleID,
		Destination: ev.Destination,
		Priority:    ev.Priority,
		Title:       ev.Title,
		MessageID:   ev.MessageID,
		Attempts:    ev.Attempts,
		Error:       ev.Error,
	}, true
}

// runJournal copies delivery events into the store until ctx is done.
func runJournal(ctx context.Context, bus eventbus.Bus, store storage.Store, log logx.Logger) error {
	events, unsub := eventbus.SubscribePrefix(bus, 256, "delivery.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			rec, ok := journalRecord(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			err := store.AppendDelivery(wctx, rec)
			cancel()
			if err != nil {
				log.Warn("journal append failed", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}
