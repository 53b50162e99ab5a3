package storage

import (
	"testing"
	"time"

	"grid-strategy-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCycleCounterIsMonotonic(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.NextCycleID()
	require.NoError(t, err)
	id2, err := s.NextCycleID()
	require.NoError(t, err)

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
}

func TestFillsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, s.SaveFill(models.OrderFill{
		OrderID: "o1", CycleID: "c1", Symbol: "BTCUSDT", Side: models.Buy,
		Price: 99500, Quantity: 0.001, Fee: 0.05, Time: now,
	}))
	require.NoError(t, s.SaveFill(models.OrderFill{
		OrderID: "o2", CycleID: "c1", Symbol: "BTCUSDT", Side: models.Sell,
		Price: 100500, Quantity: 0.001, Fee: 0.05, Time: now.Add(time.Minute),
	}))

	fills, err := s.FillsForCycle("c1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "o1", fills[0].OrderID, "fills come back oldest first")
	assert.Equal(t, models.Sell, fills[1].Side)
	assert.Equal(t, now.UnixMilli(), fills[0].Time.UnixMilli())
}

func TestRecentCyclesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()

	for i, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.SaveCycle(models.CompletedCycle{
			ID: id, Symbol: "BTCUSDT",
			StartTime: base.Add(time.Duration(i) * time.Hour),
			EndTime:   base.Add(time.Duration(i)*time.Hour + time.Minute),
			NetProfit: float64(i),
			FillCount: 2,
		}))
	}

	cycles, err := s.RecentCycles(2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c3", cycles[0].ID)
	assert.Equal(t, "c2", cycles[1].ID)
}
