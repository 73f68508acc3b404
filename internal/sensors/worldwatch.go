package sensors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"tako/internal/events"
	"tako/internal/web"
)

const worldWatchBaseInterval = 30 * time.Minute

// WorldWatch polls a fixed list of pages and reports ones whose title
// changed since the last look. The seen store keys on url plus a title
// digest, so every retitle of a watched page surfaces exactly once.
type WorldWatch struct {
	urls     []string
	interval time.Duration
	fetcher  *web.Fetcher
	seen     *SeenStore
}

// NewWorldWatch builds the sensor. multiplier stretches the base poll
// interval for younger life stages (2.0 means half as often).
func NewWorldWatch(urls []string, multiplier float64, seen *SeenStore) *WorldWatch {
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	return &WorldWatch{
		urls:     urls,
		interval: time.Duration(float64(worldWatchBaseInterval) * multiplier),
		fetcher:  web.NewFetcher(),
		seen:     seen,
	}
}

func (w *WorldWatch) Name() string            { return "worldwatch" }
func (w *WorldWatch) Interval() time.Duration { return w.interval }

func (w *WorldWatch) Poll(ctx context.Context) ([]events.Event, error) {
	var out []events.Event
	var firstErr error
	for _, url := range w.urls {
		page, err := w.fetcher.Fetch(ctx, url)
		if err != nil {
			// One dead page must not silence the rest of the watch list.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		key := url + "#" + digest(page.Title)
		fresh, err := w.seen.MarkIfNew(ctx, w.Name(), key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !fresh {
			continue
		}
		out = append(out, events.Event{
			Type:     "world.page.updated",
			Severity: events.SeverityInfo,
			Message:  fmt.Sprintf("page updated: %s (%s)", page.Title, url),
			Metadata: map[string]any{
				"url":     url,
				"title":   page.Title,
				"summary": page.Summary(240),
			},
		})
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
