// Package progress broadcasts human-readable status updates to external
// observers over NATS. Publishing is advisory and fire-and-forget: no
// publish error ever reaches a caller, and subscribers must tolerate
// duplicates because checkpointed steps may re-emit on retry.
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is the NATS subject root for progress updates; the
// correlation ID is appended as the final token.
const SubjectPrefix = "task.progress"

// Subject returns the NATS subject for one observer.
func Subject(correlationID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, correlationID)
}

// Update is one progress record.
type Update struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Role    string `json:"role"`
	Stage   string `json:"stage,omitempty"`
}

// conn is the slice of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

var _ conn = (*nats.Conn)(nil)

// Publisher publishes updates best-effort.
type Publisher struct {
	conn   conn
	logger *zap.Logger
}

// NewPublisher wraps a NATS connection. A nil connection yields a
// publisher that drops everything, which keeps progress optional in
// tests and degraded deployments.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{logger: logger}
	if nc != nil {
		p.conn = nc
	}
	return p
}

func newPublisherWithConn(c conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: c, logger: logger}
}

// Publish sends one update to the observer identified by correlationID.
// It never returns an error and never blocks beyond the NATS client's
// own buffering: marshal and publish failures are logged at debug and
// discarded.
func (p *Publisher) Publish(ctx context.Context, correlationID string, update Update) {
	if p.conn == nil || correlationID == "" {
		return
	}
	if update.ID == "" {
		update.ID = uuid.NewString()
	}
	if update.Role == "" {
		update.Role = "assistant"
	}

	data, err := json.Marshal(update)
	if err != nil {
		p.logger.Debug("dropping unmarshalable progress update", zap.Error(err))
		return
	}
	if err := p.conn.Publish(Subject(correlationID), data); err != nil {
		p.logger.Debug("progress publish failed",
			zap.String("correlation_id", correlationID),
			zap.Error(err))
	}
}
