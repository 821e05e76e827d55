package inode

import (
	"github.com/pintosgo/fscore/storage/cache"
	"github.com/pintosgo/fscore/storage/disk"
	"github.com/pintosgo/fscore/storage/freemap"
)

// TestingNewTable builds an open-inode table over a fresh in-memory
// device and bitmap allocator, mirroring ppdb's TestingNewManager
// convention.
func TestingNewTable(totalSectors int64) (*Table, *disk.MemDevice) {
	dev := disk.NewMemDevice()
	c := cache.New(dev)
	fm := freemap.NewBitmap(totalSectors)
	return New(c, fm), dev
}

// TestingOpenCnt reports ino's current open count.
func (i *Inode) TestingOpenCnt() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.openCnt
}

// TestingDenyWriteCnt reports ino's current deny-write count.
func (i *Inode) TestingDenyWriteCnt() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.denyWriteCnt
}

// TestingRemoved reports whether ino has been marked for deferred
// deletion.
func (i *Inode) TestingRemoved() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.removed
}

// TestingDataStart reports the first sector of ino's data extent.
func (i *Inode) TestingDataStart() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return int64(i.data.start)
}
