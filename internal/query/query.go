// Package query aggregates stored click events for the API and map
// consumers.
package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lexking/tracker/internal/event"
	"github.com/lexking/tracker/internal/store"
)

// Querier is the read side of the event store.
type Querier interface {
	RecentByCode(ctx context.Context, code string, limit int) ([]event.ClickEvent, error)
}

// Summary is the aggregate the API and map consume. Total counts the
// returned events, so it is bounded by the query cap rather than being a
// true all-time count; the dashboard has always worked that way.
type Summary struct {
	Total     int                `json:"total"`
	UniqueIPs int                `json:"unique_ips"`
	Events    []event.ClickEvent `json:"events"`
}

// Service performs read-only aggregation. cache may be nil, in which case
// every call goes to the store.
type Service struct {
	store Querier
	cache *redis.Client
	ttl   time.Duration
}

func New(q Querier, cache *redis.Client, ttl time.Duration) *Service {
	return &Service{store: q, cache: cache, ttl: ttl}
}

// Summarize returns up to limit most-recent events for code plus derived
// stats. API-cap summaries are served from Redis when fresh; cache problems
// degrade to a store read, never to an error.
func (s *Service) Summarize(ctx context.Context, code string, limit int) (Summary, error) {
	key := cacheKey(code)
	cacheable := s.cache != nil && limit == store.APILimit

	if cacheable {
		cached, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			var sum Summary
			if err := json.Unmarshal([]byte(cached), &sum); err == nil {
				return sum, nil
			}
			slog.Warn("dropping undecodable cached summary", "code", code, "err", err)
		} else if err != redis.Nil {
			slog.Warn("summary cache read failed", "code", code, "err", err)
		}
	}

	events, err := s.store.RecentByCode(ctx, code, limit)
	if err != nil {
		return Summary{}, err
	}
	if events == nil {
		events = []event.ClickEvent{} // keep the JSON field a list, not null
	}

	sum := Summary{
		Total:     len(events),
		UniqueIPs: uniqueIPs(events),
		Events:    events,
	}

	if cacheable {
		if body, err := json.Marshal(sum); err == nil {
			if err := s.cache.Set(ctx, key, body, s.ttl).Err(); err != nil {
				slog.Warn("summary cache write failed", "code", code, "err", err)
			}
		}
	}
	return sum, nil
}

// Invalidate drops the cached summary for code after a synchronous append.
func (s *Service) Invalidate(ctx context.Context, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(code)).Err(); err != nil {
		slog.Warn("summary cache invalidation failed", "code", code, "err", err)
	}
}

func cacheKey(code string) string {
	return "logs:" + code
}

// uniqueIPs counts distinct non-empty IP strings among the events.
func uniqueIPs(events []event.ClickEvent) int {
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.IP == "" {
			continue
		}
		seen[ev.IP] = struct{}{}
	}
	return len(seen)
}
