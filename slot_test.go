package greenrt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotPoolAcquireAllocatesWhenEmpty(t *testing.T) {
	p := newSlotPool()
	require.Equal(t, 0, p.size())

	s := p.acquire()
	require.NotNil(t, s)
	require.NotNil(t, s.wake)
	require.NotNil(t, s.relinquish)
	require.Equal(t, 0, p.size())
}

// TestSlotPoolRecycleSoundness is the spec's recycle-soundness property: a
// released slot is never handed out twice to two live fibers at once, and a
// recycled slot's stale job is cleared before reuse.
func TestSlotPoolRecycleSoundness(t *testing.T) {
	p := newSlotPool()

	s1 := p.acquire()
	s1.pendingJob = &spawnJob{}
	originalID := s1.id
	p.release(s1)
	require.Equal(t, 1, p.size())

	s2 := p.acquire()
	require.Same(t, s1, s2, "a single free slot must be reused, not reallocated")
	require.Nil(t, s2.pendingJob, "reset must clear a recycled slot's stale job")
	require.NotEqual(t, originalID, s2.id, "a recycled slot must get a fresh fiber id")

	seen := map[*fiberSlot]bool{}
	const n = 32
	slots := make([]*fiberSlot, 0, n)
	for i := 0; i < n; i++ {
		s := p.acquire()
		require.False(t, seen[s], "acquire returned a slot already outstanding")
		seen[s] = true
		slots = append(slots, s)
	}
	for _, s := range slots {
		p.release(s)
	}
	require.Equal(t, n, p.size())
}

func TestFiberSlotReset(t *testing.T) {
	s := newFiberSlot()
	s.pendingJob = &spawnJob{arg: "x"}
	s.reset()
	require.Nil(t, s.pendingJob)
}
