package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmit_UntilCapacityThenFull(t *testing.T) {
	l := NewLocal(3)
	for i := range 3 {
		_, res, _ := l.Admit(fmt.Sprintf("k%d", i), []byte("v"), "")
		require.Equal(t, Admitted, res)
	}
	_, res, _ := l.Admit("k3", []byte("v"), "")
	require.Equal(t, Full, res)
	require.Equal(t, 3, l.Len())
}

func TestAdmit_ReplacesVictim(t *testing.T) {
	l := NewLocal(2)
	l.Admit("a", []byte("1"), "")
	l.Admit("b", []byte("2"), "")

	e, res, evicted := l.Admit("c", []byte("3"), "a")
	require.Equal(t, Replaced, res)
	require.NotNil(t, e)
	require.Equal(t, "a", evicted.Key())
	require.False(t, l.Contains("a"))
	require.Equal(t, 2, l.Len())

	_, res, _ = l.Admit("d", []byte("4"), "gone")
	require.Equal(t, Full, res, "a victim that is no longer cached must refuse admission")
}

func TestAdmit_IsIdempotent(t *testing.T) {
	l := NewLocal(2)
	first, _, _ := l.Admit("a", []byte("1"), "")
	again, res, _ := l.Admit("a", []byte("other"), "")
	require.Equal(t, AlreadyCached, res)
	require.Same(t, first, again)

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))
}

func TestInvalidate_KeepsMembershipButMisses(t *testing.T) {
	l := NewLocal(2)
	l.Admit("a", []byte("1"), "")

	require.True(t, l.Invalidate("a"))
	_, ok := l.Get("a")
	require.False(t, ok)
	require.True(t, l.Contains("a"))

	info, ok := l.Info("a")
	require.True(t, ok)
	require.False(t, info.Valid)

	require.False(t, l.Invalidate("missing"))
}

func TestUpdate_RevalidatesAndBumpsVersion(t *testing.T) {
	l := NewLocal(2)
	l.Admit("a", []byte("1"), "")
	l.Invalidate("a")
	_, before, _ := l.Lookup("a")

	require.True(t, l.Update("a", []byte("2")))
	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, "2", string(v))

	_, after, _ := l.Lookup("a")
	require.Greater(t, after, before)
	require.False(t, l.Update("missing", []byte("x")))
}

func TestRefresh_RejectsStaleVersionAndRemovedEntry(t *testing.T) {
	l := NewLocal(2)
	e, _, _ := l.Admit("a", []byte("1"), "")
	_, ver, _ := l.Lookup("a")

	l.Update("a", []byte("written"))
	require.False(t, l.Refresh(e, ver, []byte("fetched-before-write")))
	v, _ := l.Get("a")
	require.Equal(t, "written", string(v))

	_, ver, _ = l.Lookup("a")
	require.True(t, l.Refresh(e, ver, []byte("fresh")))

	l.Remove("a")
	require.False(t, l.Refresh(e, ver, []byte("late")))
	require.Zero(t, l.RecordFailure(e))

	// a re-admitted key is a different entry
	e2, _, _ := l.Admit("a", []byte("new"), "")
	require.NotSame(t, e, e2)
	require.False(t, l.Refresh(e, ver, []byte("late")))
}

func TestRecordFailure_CountsAndRefreshResets(t *testing.T) {
	l := NewLocal(1)
	e, _, _ := l.Admit("a", []byte("1"), "")
	require.Equal(t, 1, l.RecordFailure(e))
	require.Equal(t, 2, l.RecordFailure(e))

	_, ver, _ := l.Lookup("a")
	require.True(t, l.Refresh(e, ver, []byte("ok")))
	info, _ := l.Info("a")
	require.Zero(t, info.Failures)
}

func TestUpdate_ClearsFailures(t *testing.T) {
	l := NewLocal(1)
	e, _, _ := l.Admit("a", []byte("1"), "")
	for range 3 {
		l.RecordFailure(e)
	}

	require.True(t, l.Update("a", []byte("2")))
	info, _ := l.Info("a")
	require.Zero(t, info.Failures)
	require.Equal(t, 1, l.RecordFailure(e))
}

func TestGet_ReturnsPrivateCopy(t *testing.T) {
	l := NewLocal(1)
	l.Admit("a", []byte("v1"), "")

	v, ok := l.Get("a")
	require.True(t, ok)
	v[0] = 'X'

	again, _ := l.Get("a")
	require.Equal(t, "v1", string(again))
}

func TestConcurrentAdmit_NeverExceedsCapacity(t *testing.T) {
	l := NewLocal(10)
	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", (g*31+i)%64)
				victim := fmt.Sprintf("k%d", (g+i)%64)
				l.Admit(key, []byte("v"), victim)
				if i%7 == 0 {
					l.Remove(victim)
				}
				assert.LessOrEqual(t, l.Len(), 10)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 10)
	require.Len(t, l.Keys(), l.Len())
}
