package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

const (
	SubjectPostDeleted = "gallery.post.deleted"
	SubjectPostUpdated = "gallery.post.updated"

	handlerTimeout = 30 * time.Second
)

// Deleter drops a post's stored embedding.
type Deleter interface {
	DeleteEmbedding(ctx context.Context, postID string) error
}

// Subscriber invalidates embeddings when the gallery deletes or edits posts.
// The next similar lookup re-embeds the post lazily.
type Subscriber struct {
	client  *Client
	deleter Deleter
	logger  *slog.Logger
	subs    []*nats.Subscription
}

// NewSubscriber creates a new Hermes event subscriber.
func NewSubscriber(client *Client, deleter Deleter, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:  client,
		deleter: deleter,
		logger:  logger,
	}
}

// PostEvent is an incoming gallery post event.
type PostEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		PostID  string   `json:"postId"`
		Changed []string `json:"changed,omitempty"`
	} `json:"data"`
}

// Start subscribes to the gallery post subjects.
func (s *Subscriber) Start() error {
	subjects := map[string]nats.MsgHandler{
		SubjectPostDeleted: s.handlePostDeleted,
		SubjectPostUpdated: s.handlePostUpdated,
	}

	for subject, handler := range subjects {
		sub, err := s.client.Subscribe(subject, "resemble-"+sanitizeSubject(subject), handler)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("subscribed to Hermes subject", "subject", subject)
	}

	return nil
}

// Stop unsubscribes from all subjects.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) handlePostDeleted(msg *nats.Msg) {
	event, ok := s.parse(msg)
	if !ok {
		return
	}
	s.invalidate(msg, event, "post deleted")
}

func (s *Subscriber) handlePostUpdated(msg *nats.Msg) {
	event, ok := s.parse(msg)
	if !ok {
		return
	}
	if !contentChanged(event.Data.Changed) {
		s.logger.Debug("post update leaves embedding valid", "post_id", event.Data.PostID, "changed", event.Data.Changed)
		s.ack(msg)
		return
	}
	s.invalidate(msg, event, "post content changed")
}

func (s *Subscriber) parse(msg *nats.Msg) (*PostEvent, bool) {
	var event PostEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Error("failed to parse post event", "error", err, "subject", msg.Subject)
		s.ack(msg)
		return nil, false
	}
	if event.Data.PostID == "" {
		s.logger.Warn("post event without post id", "subject", msg.Subject, "event_id", event.ID)
		s.ack(msg)
		return nil, false
	}
	return &event, true
}

func (s *Subscriber) invalidate(msg *nats.Msg, event *PostEvent, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := s.deleter.DeleteEmbedding(ctx, event.Data.PostID); err != nil {
		s.logger.Error("failed to invalidate embedding", "post_id", event.Data.PostID, "event_id", event.ID, "error", err)
		if retryable(err) {
			s.nak(msg)
			return
		}
		s.ack(msg)
		return
	}

	s.logger.Info("invalidated embedding", "post_id", event.Data.PostID, "event_id", event.ID, "reason", reason)
	s.ack(msg)
}

// retryable reports failures worth a redelivery: a back-end that is down
// or a database error that may clear on its own.
func retryable(err error) bool {
	return reserr.IsUnavailable(err) || reserr.HasCode(err, reserr.CodeStoreDatabaseFailure)
}

// contentChanged reports whether an update touched embedded fields. An
// event that does not list its changes is treated as a content change.
func contentChanged(changed []string) bool {
	if len(changed) == 0 {
		return true
	}
	return slices.ContainsFunc(changed, func(f string) bool {
		switch strings.ToLower(f) {
		case "caption", "image", "imageurl", "image_url":
			return true
		}
		return false
	})
}

func (s *Subscriber) ack(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}

// nak asks JetStream to redeliver; core NATS messages are dropped.
func (s *Subscriber) nak(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Nak()
	}
}

func sanitizeSubject(subject string) string {
	return strings.NewReplacer(".", "-", ">", "-", "*", "-").Replace(subject)
}
