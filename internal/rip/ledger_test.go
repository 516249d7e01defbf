package rip

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerReserveRejectsDuplicates(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	loc := MustLocator("https://example.com/a.jpg")

	require.True(t, l.Reserve(loc, "/tmp/a.jpg", false))
	require.False(t, l.Reserve(loc, "/tmp/other.jpg", false))

	bucket, path := l.Lookup(loc)
	require.Equal(t, BucketPending, bucket)
	require.Equal(t, "/tmp/a.jpg", path)

	l.Complete(loc, "/tmp/a.jpg")
	require.False(t, l.Reserve(loc, "/tmp/a.jpg", false))
	require.Equal(t, Counts{Completed: 1}, l.Counts())
}

func TestLedgerAllowDuplicatesKeepsBucketsDisjoint(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	loc := MustLocator("https://example.com/a.jpg")

	require.True(t, l.Reserve(loc, "a", true))
	l.Fail(loc, "timeout")
	require.True(t, l.Reserve(loc, "a", true))

	bucket, _ := l.Lookup(loc)
	require.Equal(t, BucketErrored, bucket, "terminal entries never return to pending")

	l.Complete(loc, "a")
	require.Equal(t, Counts{Completed: 1}, l.Counts())
}

func TestLedgerTransitionsReturnRemainingPending(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	a := MustLocator("https://example.com/a")
	b := MustLocator("https://example.com/b")
	require.True(t, l.Reserve(a, "a", false))
	require.True(t, l.Reserve(b, "b", false))

	require.Equal(t, 1, l.Complete(a, "a"))
	require.Equal(t, 0, l.Fail(b, "404"))
	require.Equal(t, map[Locator]string{b: "404"}, l.Errors())
	require.Equal(t, 2, l.Finished())
}

func TestLedgerRecordSkipsKnownLocators(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	loc := MustLocator("https://example.com/a")
	require.True(t, l.Record(loc, "urls.txt", false))
	require.False(t, l.Record(loc, "urls.txt", false))
	require.Equal(t, Counts{Completed: 1}, l.Counts())
}

func TestLedgerClearPending(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	for i := 0; i < 3; i++ {
		l.Reserve(MustLocator(fmt.Sprintf("https://example.com/%d", i)), "", false)
	}
	require.Equal(t, 3, l.ClearPending())
	require.Zero(t, l.Counts().Total())
}

func TestCountsPercentage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		counts Counts
		want   int
	}{
		{Counts{}, 0},
		{Counts{Pending: 3}, 0},
		{Counts{Pending: 1, Completed: 2}, 67},
		{Counts{Pending: 2, Completed: 1}, 33},
		{Counts{Completed: 1, Errored: 2}, 100},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.counts.Percentage(), "%+v", tc.counts)
	}
}

func TestLedgerConcurrentTransitionsStayDisjoint(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	const n = 200
	locs := make([]Locator, n)
	for i := range locs {
		locs[i] = MustLocator(fmt.Sprintf("https://example.com/item/%d", i))
		require.True(t, l.Reserve(locs[i], "p", false))
	}

	var wg sync.WaitGroup
	for i, loc := range locs {
		wg.Add(1)
		go func(i int, loc Locator) {
			defer wg.Done()
			if i%3 == 0 {
				l.Fail(loc, "boom")
				return
			}
			l.Complete(loc, "p")
		}(i, loc)
	}

	last := 0
	for done := false; !done; {
		c := l.Counts()
		require.Equal(t, n, c.Total(), "an item is never in two buckets or none")
		require.GreaterOrEqual(t, c.Percentage(), last)
		last = c.Percentage()
		done = c.Pending == 0
	}
	wg.Wait()
	require.Equal(t, 100, l.Counts().Percentage())
}
