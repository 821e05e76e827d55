package cache

import "github.com/pintosgo/fscore/storage/disk"

// TestingNewCache initializes a Cache over a fresh in-memory device,
// mirroring ppdb's TestingNewManager convention.
func TestingNewCache() (*Cache, *disk.MemDevice) {
	dev := disk.NewMemDevice()
	return New(dev), dev
}

// TestingHand returns the current clock hand position, for tests that
// assert on eviction order.
func (c *Cache) TestingHand() int {
	return c.hand
}

// TestingSetAccess forces slot idx's access bit, for constructing a
// "fill all slots with access=true" scenario.
func (c *Cache) TestingSetAccess(idx int, access bool) {
	s := c.slot[idx]
	s.mu.Lock()
	s.access = access
	s.mu.Unlock()
}

// TestingSlotState reports whether slot idx is allocated, its resident
// sector, and its access/dirty bits.
func (c *Cache) TestingSlotState(idx int) (alloc bool, sec int64, access, dirty bool) {
	s := c.slot[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc, int64(s.sec), s.access, s.dirty
}
