package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// QueueEmitter enqueues intents onto a PGMQ queue inside the primary
// database. Consumers read with pgmq.read and delete after delivery, so an
// intent survives process restarts on either side.
type QueueEmitter struct {
	PG    *sql.DB
	Queue string
}

func NewQueueEmitter(pg *sql.DB, queue string) *QueueEmitter {
	return &QueueEmitter{PG: pg, Queue: queue}
}

func (q *QueueEmitter) Emit(ctx context.Context, intent Intent) error {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal notification intent: %w", err)
	}
	if _, err := q.PG.ExecContext(ctx, `SELECT pgmq.send($1, $2)`, q.Queue, string(payload)); err != nil {
		return fmt.Errorf("failed to send intent to queue %s: %w", q.Queue, err)
	}
	return nil
}
