package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/creatorhub/internal/model"
)

// ProgressSource is what a Poller reads. *Client satisfies it.
type ProgressSource interface {
	Progress(ctx context.Context, userID string) (*model.ScrapingProgress, error)
}

// DefaultMaxFailures is how many consecutive failed polls end a Poll.
const DefaultMaxFailures = 3

// Poller turns the scraper's pull-only progress endpoint into a stream.
type Poller struct {
	src         ProgressSource
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger
}

// NewPoller polls src every interval.
func NewPoller(src ProgressSource, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		src:         src,
		interval:    interval,
		maxFailures: DefaultMaxFailures,
		logger:      logger.With(slog.String("component", "poller")),
	}
}

// Poll starts polling userID's search and returns a channel of snapshots.
// The first poll happens immediately.
//
// The channel is closed, and the polling goroutine exits, when:
//   - a snapshot with a terminal status has been delivered;
//   - the first snapshot reports no search at all (idle);
//   - ctx is cancelled;
//   - maxFailures polls in a row fail. A final "failed" snapshot carrying
//     the last error message is delivered first.
//
// The consumer must either drain the channel or cancel ctx.
func (p *Poller) Poll(ctx context.Context, userID string) <-chan model.ScrapingProgress {
	out := make(chan model.ScrapingProgress)

	go func() {
		defer close(out)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		failures := 0
		first := true
		for {
			snap, err := p.src.Progress(ctx, userID)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				failures++
				p.logger.Warn("progress poll failed",
					slog.String("userID", userID),
					slog.Int("failures", failures),
					slog.String("error", err.Error()),
				)
				if failures >= p.maxFailures {
					p.send(ctx, out, model.ScrapingProgress{Status: model.ScrapeFailed, Message: err.Error()})
					return
				}
			default:
				failures = 0
				if !p.send(ctx, out, *snap) || snap.Status.Terminal() {
					return
				}
				if first && snap.Status == model.ScrapeIdle {
					return
				}
				first = false
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// send delivers snap unless ctx is cancelled first.
func (p *Poller) send(ctx context.Context, out chan<- model.ScrapingProgress, snap model.ScrapingProgress) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
