package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lexking/tracker/internal/event"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s := New(db)
	require.NoError(t, s.Migrate())

	t.Cleanup(func() {
		db.Exec("DELETE FROM logs")
	})
	return s
}

func testEvent(code, ip string) event.ClickEvent {
	return event.ClickEvent{
		Code:      code,
		IP:        ip,
		UserAgent: "TestAgent",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 5; i++ {
		ev := testEvent("ord1", "203.0.113.5")
		require.NoError(t, s.Append(ctx, &ev))
		assert.Greater(t, ev.ID, lastID)
		lastID = ev.ID
	}
}

func TestAppendPersistsNullableGeo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lat, lon := -23.5505, -46.6333
	asn := int64(13335)
	city := "Sao Paulo"

	full := testEvent("geo1", "203.0.113.5")
	full.City = &city
	full.Lat = &lat
	full.Lon = &lon
	full.ASN = &asn
	require.NoError(t, s.Append(ctx, &full))

	bare := testEvent("geo1", "203.0.113.6")
	require.NoError(t, s.Append(ctx, &bare))

	events, err := s.RecentByCode(ctx, "geo1", APILimit)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Most recent first: the bare event.
	assert.Nil(t, events[0].City)
	assert.Nil(t, events[0].Lat)
	assert.Nil(t, events[0].ASN)

	require.NotNil(t, events[1].Lat)
	assert.Equal(t, lat, *events[1].Lat)
	require.NotNil(t, events[1].Lon)
	assert.Equal(t, lon, *events[1].Lon)
	require.NotNil(t, events[1].ASN)
	assert.Equal(t, asn, *events[1].ASN)
	require.NotNil(t, events[1].City)
	assert.Equal(t, city, *events[1].City)
}

func TestRecentByCodeOrderAndCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		ev := testEvent("cap1", fmt.Sprintf("198.51.100.%d", i))
		require.NoError(t, s.Append(ctx, &ev))
	}
	other := testEvent("other", "203.0.113.9")
	require.NoError(t, s.Append(ctx, &other))

	events, err := s.RecentByCode(ctx, "cap1", 10)
	require.NoError(t, err)
	require.Len(t, events, 10)

	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i-1].ID, events[i].ID, "events must be id-descending")
	}
	for _, ev := range events {
		assert.Equal(t, "cap1", ev.Code)
	}
}

func TestRecentByCodeEmpty(t *testing.T) {
	s := newTestStore(t)

	events, err := s.RecentByCode(context.Background(), "nope", APILimit)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAppendBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []event.ClickEvent{
		testEvent("batch1", "198.51.100.1"),
		testEvent("batch1", "198.51.100.2"),
		testEvent("batch1", "198.51.100.3"),
	}
	require.NoError(t, s.AppendBatch(ctx, batch))
	require.NoError(t, s.AppendBatch(ctx, nil))

	events, err := s.RecentByCode(ctx, "batch1", APILimit)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
