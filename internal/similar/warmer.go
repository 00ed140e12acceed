package similar

import (
	"context"
	"log/slog"
	"sync"
	"time"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// Warmer periodically embeds posts that have never been looked up, so the
// first similar-posts request for them skips the backfill.
type Warmer struct {
	service  *Service
	posts    Posts
	interval time.Duration
	batch    int
	logger   *slog.Logger

	mu sync.Mutex
	// skip holds posts that failed in a way retrying cannot fix. It lives
	// for the process, so a restart retries them once.
	skip map[string]struct{}
}

// NewWarmer creates a warmer. A non-positive batch selects 25.
func NewWarmer(service *Service, posts Posts, interval time.Duration, batch int, logger *slog.Logger) *Warmer {
	if batch <= 0 {
		batch = 25
	}
	return &Warmer{
		service:  service,
		posts:    posts,
		interval: interval,
		batch:    batch,
		logger:   logger,
		skip:     make(map[string]struct{}),
	}
}

// Start runs the warm loop until ctx is cancelled.
func (w *Warmer) Start(ctx context.Context) {
	w.logger.Info("embedding warmer starting", "interval", w.interval.String(), "batch", w.batch)
	go w.runLoop(ctx)
}

func (w *Warmer) runLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("embedding warmer shutting down")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Warn("embedding warmer run", "error", err)
			}
		}
	}
}

// RunOnce warms one batch and returns how many posts were embedded. A
// failure on one post is logged and does not stop the batch.
func (w *Warmer) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.posts.ListUnembedded(ctx, w.batch, w.skipped())
	if err != nil {
		return 0, err
	}

	embedded := 0
	for _, post := range pending {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.service.Warm(ctx, post)
		if err != nil {
			if permanent(err) {
				w.markSkipped(post.ID)
				w.logger.Warn("skipping post that cannot be embedded", "post_id", post.ID, "error", err)
			} else {
				w.logger.Warn("warming post", "post_id", post.ID, "error", err)
			}
			continue
		}
		if ok {
			embedded++
		}
	}

	if embedded > 0 {
		w.logger.Info("embeddings warmed", "count", embedded)
	}
	return embedded, nil
}

// permanent reports failures that depend on the post itself rather than on
// a back-end being down.
func permanent(err error) bool {
	return reserr.IsInvalidInput(err) || reserr.IsMalformed(err) || reserr.IsNotFound(err)
}

func (w *Warmer) markSkipped(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skip[id] = struct{}{}
}

func (w *Warmer) skipped() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.skip))
	for id := range w.skip {
		ids = append(ids, id)
	}
	return ids
}
