package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexking/tracker/internal/event"
	"github.com/lexking/tracker/internal/store"
)

type stubStore struct {
	events []event.ClickEvent
	err    error
	calls  int
}

func (s *stubStore) RecentByCode(ctx context.Context, code string, limit int) ([]event.ClickEvent, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.events) > limit {
		return s.events[:limit], nil
	}
	return s.events, nil
}

func clickFrom(ip string) event.ClickEvent {
	return event.ClickEvent{
		Code:      "abc",
		IP:        ip,
		UserAgent: "TestAgent",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestSummarizeUniqueIPs(t *testing.T) {
	st := &stubStore{events: []event.ClickEvent{
		clickFrom("203.0.113.1"),
		clickFrom("203.0.113.1"),
		clickFrom("203.0.113.2"),
	}}
	svc := New(st, nil, 0)

	sum, err := svc.Summarize(context.Background(), "abc", store.APILimit)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.UniqueIPs)
	assert.Len(t, sum.Events, 3)
}

func TestSummarizeIgnoresEmptyIPs(t *testing.T) {
	st := &stubStore{events: []event.ClickEvent{
		clickFrom("203.0.113.1"),
		clickFrom(""),
		clickFrom(""),
	}}
	svc := New(st, nil, 0)

	sum, err := svc.Summarize(context.Background(), "abc", store.APILimit)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.UniqueIPs)
}

func TestSummarizeEmptyCode(t *testing.T) {
	svc := New(&stubStore{}, nil, 0)

	sum, err := svc.Summarize(context.Background(), "nope", store.APILimit)
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Zero(t, sum.UniqueIPs)
	assert.Empty(t, sum.Events)
}

func TestSummarizeRespectsLimit(t *testing.T) {
	events := make([]event.ClickEvent, 10)
	for i := range events {
		events[i] = clickFrom("203.0.113.1")
	}
	svc := New(&stubStore{events: events}, nil, 0)

	sum, err := svc.Summarize(context.Background(), "abc", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Len(t, sum.Events, 4)
}

func TestSummarizeStoreError(t *testing.T) {
	svc := New(&stubStore{err: errors.New("db down")}, nil, 0)

	_, err := svc.Summarize(context.Background(), "abc", store.APILimit)
	assert.Error(t, err)
}

func TestSummarizeWithoutCacheHitsStoreEachCall(t *testing.T) {
	st := &stubStore{events: []event.ClickEvent{clickFrom("203.0.113.1")}}
	svc := New(st, nil, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := svc.Summarize(context.Background(), "abc", store.APILimit)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, st.calls)
}
