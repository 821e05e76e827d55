/*
Package cache is the sector buffer cache, the hard part of this
module. A fixed array of N slots, each owning one sector-sized buffer,
is searched linearly on every access; misses are filled from the
device and, when the cache is full, a slot is chosen for eviction by a
clock/second-chance sweep across a shared hand.

This is grafted from ppdb's storage/buffer package structurally: one
Manager-like type owning fixed-size slot storage plus a package-level
eviction/clock-sweep pair of files (see clock_sweep.go in ppdb), but
the policy itself is simplified to exactly what a Pintos-style buffer
cache needs: no pin count, no usage count, no buffer table (lookup is
a linear scan, not a hash map keyed by tag), and eviction is driven by
a single access/dirty pair of bits per slot rather than ppdb's packed
state word. The reference this package's algorithm is grounded on is
Pintos's filesys/inode.c _disk_read/_disk_write, which implement
precisely this 64-slot linear-scan-then-clock-sweep cache.
*/
package cache

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/pintosgo/fscore/sector"
	"github.com/pintosgo/fscore/storage/disk"
)

// SlotCount is the fixed number of slots in the cache.
const SlotCount = 64

// debug gates trace output for eviction decisions, the way
// mit-pdos-biscuit's bdev.go gates its fmt.Printf calls behind a
// bdev_debug constant. Off by default.
const debug = false

func tracef(format string, args ...interface{}) {
	if debug {
		fmt.Printf("cache: "+format+"\n", args...)
	}
}

// slot is one cache slot: a resident sector's buffer plus the flags
// the clock-sweep policy needs, guarded by its own lock.
type slot struct {
	mu     sync.Mutex
	buf    [sector.Size]byte
	sec    sector.ID
	alloc  bool
	access bool
	dirty  bool
}

// Cache is the fixed-capacity sector buffer cache. The zero value is
// not usable; construct with New.
type Cache struct {
	dev  disk.Device
	slot [SlotCount]*slot

	evictMu sync.Mutex
	hand    int
}

// New returns a Cache with all slots empty, backed by dev.
func New(dev disk.Device) *Cache {
	c := &Cache{dev: dev}
	for i := range c.slot {
		c.slot[i] = &slot{sec: sector.None}
	}
	return c
}

// Read copies length bytes from the cached image of sec, starting at
// offset, into dst. 0 <= offset+length <= sector.Size.
func (c *Cache) Read(sec sector.ID, dst []byte, offset, length int) error {
	if err := checkRange(offset, length); err != nil {
		return err
	}
	s, hit, err := c.resident(sec, false)
	if err != nil {
		return err
	}
	// s is returned locked: the copy happens under the same slot-lock
	// the hit/miss path acquired. Only a genuine hit sets access here,
	// a freshly-filled slot starts with access=false and must stay
	// that way until it is actually re-referenced, or the clock hand
	// could never evict it.
	if hit {
		s.access = true
	}
	copy(dst[:length], s.buf[offset:offset+length])
	s.mu.Unlock()
	return nil
}

// Write copies length bytes from src into the cached image of sec at
// offset, marking the slot dirty. 0 <= offset+length <= sector.Size.
func (c *Cache) Write(sec sector.ID, src []byte, offset, length int) error {
	if err := checkRange(offset, length); err != nil {
		return err
	}
	s, _, err := c.resident(sec, true)
	if err != nil {
		return err
	}
	s.dirty = true
	copy(s.buf[offset:offset+length], src[:length])
	s.mu.Unlock()
	return nil
}

func checkRange(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > sector.Size {
		return errors.Errorf("cache: byte range [%d,%d) out of bounds for a %d-byte sector", offset, offset+length, sector.Size)
	}
	return nil
}

// resident returns, locked, the slot holding sec, filling it from the
// device first if necessary. forWrite selects which flags a freshly
// filled slot resets to. The second return value reports whether sec
// was already resident (a hit) as opposed to freshly filled.
func (c *Cache) resident(sec sector.ID, forWrite bool) (*slot, bool, error) {
	if sec == sector.None {
		return nil, false, errors.New("cache: sector.None is not a valid sector")
	}

	// Hit path: scan every slot, locking one at a time. A miss on a
	// candidate releases its lock before moving on. This also leaves
	// the door open for a concurrent-miss race: two callers missing on
	// the same absent sector can both fall through to fill and both
	// install a slot for it. Left as is rather than coalesced with an
	// in-flight table.
	for _, s := range c.slot {
		s.mu.Lock()
		if s.alloc && s.sec == sec {
			return s, true, nil
		}
		s.mu.Unlock()
	}

	s, err := c.fill(sec, forWrite)
	return s, false, err
}

// fill runs the miss path: clock-sweep eviction followed by a
// whole-sector read from the device. Returns the slot locked.
func (c *Cache) fill(sec sector.ID, forWrite bool) (*slot, error) {
	c.evictMu.Lock()
	for {
		idx := c.hand
		c.hand = (c.hand + 1) % SlotCount
		s := c.slot[idx]
		s.mu.Lock()

		if !s.alloc {
			if err := c.dev.ReadSector(sec, s.buf[:]); err != nil {
				s.mu.Unlock()
				c.evictMu.Unlock()
				return nil, errors.Wrapf(err, "ReadSector %d failed", sec)
			}
			s.sec = sec
			s.alloc = true
			s.access = false
			s.dirty = forWrite
			c.evictMu.Unlock()
			tracef("claimed empty slot %d for sector %d", idx, sec)
			return s, nil
		}

		if !s.access {
			if s.dirty {
				if err := c.dev.WriteSector(s.sec, s.buf[:]); err != nil {
					s.mu.Unlock()
					c.evictMu.Unlock()
					return nil, errors.Wrapf(err, "writeback of sector %d failed", s.sec)
				}
			}
			if err := c.dev.ReadSector(sec, s.buf[:]); err != nil {
				s.mu.Unlock()
				c.evictMu.Unlock()
				return nil, errors.Wrapf(err, "ReadSector %d failed", sec)
			}
			evicted := s.sec
			s.sec = sec
			s.alloc = true
			s.access = false
			s.dirty = forWrite
			c.evictMu.Unlock()
			tracef("evicted slot %d (was sector %d) for sector %d", idx, evicted, sec)
			return s, nil
		}

		// second chance: demote and keep looking.
		s.access = false
		s.mu.Unlock()
	}
}
