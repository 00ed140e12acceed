package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Resemble/internal/similar"
)

const (
	SubjectEmbeddingBackfilled = "resemble.embedding.backfilled"
	SubjectEmbeddingDeleted    = "resemble.embedding.deleted"

	eventSource = "resemble"
)

// Sender publishes raw messages. *Client implements it.
type Sender interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes embedding lifecycle events to Hermes.
type Publisher struct {
	sender Sender
	logger *slog.Logger
}

// NewPublisher creates a new Hermes event publisher.
func NewPublisher(sender Sender, logger *slog.Logger) *Publisher {
	return &Publisher{sender: sender, logger: logger}
}

// Event is the standard event envelope published to Hermes.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func (p *Publisher) publish(_ context.Context, subject string, data any) error {
	event := Event{
		ID:        uuid.NewString(),
		Type:      subject,
		Source:    eventSource,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if err := p.sender.Publish(subject, raw); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	p.logger.Debug("published event", "subject", subject, "event_id", event.ID)
	return nil
}

// EmbeddingBackfilled announces a vector computed on first lookup.
func (p *Publisher) EmbeddingBackfilled(ctx context.Context, postID string, b similar.Backfill) error {
	return p.publish(ctx, SubjectEmbeddingBackfilled, map[string]any{
		"postId":     postID,
		"vectorId":   b.VectorID,
		"dimension":  b.Dimension,
		"model":      b.Model,
		"embeddedAt": b.EmbeddedAt,
	})
}

// EmbeddingDeleted announces that a post's vector was removed.
func (p *Publisher) EmbeddingDeleted(ctx context.Context, postID string) error {
	return p.publish(ctx, SubjectEmbeddingDeleted, map[string]any{
		"postId": postID,
	})
}

var _ similar.Publisher = (*Publisher)(nil)
