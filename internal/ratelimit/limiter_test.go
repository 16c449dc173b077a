package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitAppliesPerSourceOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   1000,
		DefaultBurst: 1,
		SourceRPS:    map[string]float64{"arxiv": 5},
	})
	ctx := context.Background()

	// First token is free; the second waits roughly a full period of the
	// overridden 5 rps budget, not the fast default.
	require.NoError(t, l.Wait(ctx, "arxiv"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "arxiv"))
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "pubmed"))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "pubmed")
	require.Error(t, err)
	require.Contains(t, err.Error(), "pubmed")
}

func TestRemainingReportsBudget(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 2, DefaultBurst: 2})
	ctx := context.Background()

	remaining := l.Remaining("doaj")
	require.NotNil(t, remaining)
	require.InDelta(t, 2, *remaining, 0.1)

	require.NoError(t, l.Wait(ctx, "doaj"))
	require.NoError(t, l.Wait(ctx, "doaj"))
	remaining = l.Remaining("doaj")
	require.NotNil(t, remaining)
	require.Less(t, *remaining, 1.0)
}

func TestRemainingIsNilWhenUnthrottled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.Nil(t, l.Remaining("conference"))
}
