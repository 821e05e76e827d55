/*
Package inode is the inode layer: open-inode deduplication by on-disk
sector, reference counting, deferred deletion, bounded byte-granular
read/write, and write-deny reservations. All disk traffic flows
through storage/cache.

The on-disk header layout (start/length/magic, little-endian, padded to
one sector) is grounded on the original Pintos filesys/inode.c's
struct inode_disk. The open-inode set's shape, a linear-scan set
deduplicated by key with a stable, shared, reference-counted handle,
follows the same idiom ppdb's storage/buffer.bufferTable uses to
deduplicate buffers by tag, adapted from a hash map (bufferTable is
keyed lookup because buffer tags are hashable and the buffer count is
large) to a linear scan, appropriate for what is expected to be a
small number of concurrently open inodes.
*/
package inode

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/pintosgo/fscore/sector"
	"github.com/pintosgo/fscore/storage/cache"
	"github.com/pintosgo/fscore/storage/freemap"
)

// Magic is the tag every on-disk header must carry.
const Magic uint32 = 0x494E4F44

// headerSize is the on-disk encoding of {start, length, magic}: three
// little-endian uint32/int32 fields. The rest of the sector is unused
// padding.
const headerSize = 12

// header is the on-disk inode: exactly one sector.
type header struct {
	start  sector.ID
	length int64
	magic  uint32
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.start))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.length))
	binary.LittleEndian.PutUint32(buf[8:12], h.magic)
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		// start is widened through int32, the same as length, so the
		// zero-length sentinel sector.None (-1) survives the round trip
		// instead of decoding as 4294967295.
		start:  sector.ID(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		length: int64(int32(binary.LittleEndian.Uint32(buf[4:8]))),
		magic:  binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// Inode is the in-memory, reference-counted handle for an on-disk
// inode. All openers of the same on-disk sector share one Inode.
type Inode struct {
	mu sync.Mutex

	sector       sector.ID
	openCnt      int
	denyWriteCnt int
	removed      bool
	data         header
}

// Sector returns the on-disk sector this inode's header lives at.
func (i *Inode) Sector() sector.ID {
	return i.sector
}

// Length returns the inode's current byte length.
func (i *Inode) Length() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.data.length
}

// Table is the open-inode set: every currently-open inode, deduplicated
// by sector, guarded by one dedicated lock.
type Table struct {
	mu    sync.Mutex
	cache *cache.Cache
	free  freemap.Allocator
	open  []*Inode
}

// New returns an empty open-inode table backed by c for sector I/O and
// fm for extent allocation.
func New(c *cache.Cache, fm freemap.Allocator) *Table {
	return &Table{cache: c, free: fm}
}

// Create reserves sec for the header itself, allocates a contiguous
// extent of ceil(length/sector.Size) sectors disjoint from it, writes
// the header at sec recording that extent, and zeroes every data
// sector. It does not open the inode.
//
// sec must not already be in use in the Allocator passed to New: where
// Pintos has the directory claim the inode's own sector via
// free_map_allocate before calling inode_create, Create reserves sec
// itself, and fails if it is already taken. If any later step fails,
// Create releases the header sector and any extent it allocated.
func (t *Table) Create(sec sector.ID, length int64) error {
	if length < 0 {
		return errors.New("inode: length must be >= 0")
	}

	if err := t.free.Reserve(sec); err != nil {
		return errors.Wrap(err, "freemap.Reserve header sector failed")
	}

	count := sector.Count(length)

	var start sector.ID
	if count > 0 {
		var err error
		start, err = t.free.Allocate(count)
		if err != nil {
			t.free.Release(sec, 1)
			return errors.Wrap(err, "freemap.Allocate failed")
		}
	} else {
		start = sector.None
	}

	h := header{start: start, length: length, magic: Magic}
	if err := t.cache.Write(sec, encodeHeader(h), 0, headerSize); err != nil {
		t.free.Release(start, count)
		t.free.Release(sec, 1)
		return errors.Wrap(err, "cache.Write header failed")
	}

	zero := make([]byte, sector.Size)
	for i := int64(0); i < count; i++ {
		if err := t.cache.Write(start+sector.ID(i), zero, 0, sector.Size); err != nil {
			t.free.Release(start, count)
			t.free.Release(sec, 1)
			return errors.Wrap(err, "cache.Write zero data sector failed")
		}
	}
	return nil
}

// Open returns the shared handle for the inode at sec, incrementing
// its open count if one is already open, or reading its header off
// disk and installing a new handle otherwise.
func (t *Table) Open(sec sector.ID) (*Inode, error) {
	t.mu.Lock()
	for _, ino := range t.open {
		if ino.sector == sec {
			ino.mu.Lock()
			ino.openCnt++
			ino.mu.Unlock()
			t.mu.Unlock()
			return ino, nil
		}
	}
	t.mu.Unlock()

	buf := make([]byte, headerSize)
	if err := t.cache.Read(sec, buf, 0, headerSize); err != nil {
		return nil, errors.Wrap(err, "cache.Read header failed")
	}
	h := decodeHeader(buf)
	if h.magic != Magic {
		panic(errors.Errorf("inode: corrupt header at sector %d: bad magic %#x", sec, h.magic))
	}

	ino := &Inode{sector: sec, openCnt: 1, data: h}

	t.mu.Lock()
	// re-check: another goroutine may have raced us to install the
	// same sector while we were reading the header without the lock.
	for _, existing := range t.open {
		if existing.sector == sec {
			existing.mu.Lock()
			existing.openCnt++
			existing.mu.Unlock()
			t.mu.Unlock()
			return existing, nil
		}
	}
	t.open = append(t.open, ino)
	t.mu.Unlock()
	return ino, nil
}

// Reopen increments ino's open count and returns it. Safe to call
// with a nil ino, which it returns unchanged.
func (t *Table) Reopen(ino *Inode) *Inode {
	if ino == nil {
		return nil
	}
	ino.mu.Lock()
	ino.openCnt++
	ino.mu.Unlock()
	return ino
}

// Close decrements ino's open count. When it reaches zero the handle
// is removed from the open-inode set and destroyed; if the inode had
// been marked removed, its header sector and data extent are released
// back to the free-sector allocator. Safe to call with a nil ino.
//
// The decrement, the last-opener check, the open-set removal, and the
// extent release all happen under t.mu, the same lock Open's dedup
// scan takes: otherwise a concurrent Open could observe ino still in
// the open set after Close has decided to destroy it, bump openCnt
// back up, and hand out a handle whose backing extent Close then frees
// out from under it.
func (t *Table) Close(ino *Inode) error {
	if ino == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ino.mu.Lock()
	ino.openCnt--
	last := ino.openCnt == 0
	removed := ino.removed
	dataStart := ino.data.start
	dataLen := ino.data.length
	ino.mu.Unlock()

	if !last {
		return nil
	}

	for idx, existing := range t.open {
		if existing == ino {
			t.open = append(t.open[:idx], t.open[idx+1:]...)
			break
		}
	}

	if removed {
		t.free.Release(ino.sector, 1)
		t.free.Release(dataStart, sector.Count(dataLen))
	}
	return nil
}

// Remove marks ino for deletion once its last opener closes it. It
// does not affect existing openers' ability to read or write.
func (t *Table) Remove(ino *Inode) {
	ino.mu.Lock()
	ino.removed = true
	ino.mu.Unlock()
}

// ReadAt reads size bytes from ino into dst starting at offset,
// clipped by the inode's current length, and returns the number of
// bytes actually read. Reading past end of file is not an error: it
// yields a short count.
func (t *Table) ReadAt(ino *Inode, dst []byte, size int, offset int64) (int, error) {
	ino.mu.Lock()
	length := ino.data.length
	ino.mu.Unlock()

	read := 0
	for read < size {
		sec := byteToSectorLen(ino, offset, length)
		if sec == sector.None {
			break
		}
		secOff := int(offset % sector.Size)
		inodeLeft := length - offset
		sectorLeft := int64(sector.Size - secOff)
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := int64(size - read)
		if minLeft < chunk {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}
		if err := t.cache.Read(sec, dst[read:read+int(chunk)], secOff, int(chunk)); err != nil {
			return read, errors.Wrap(err, "cache.Read failed")
		}
		read += int(chunk)
		offset += chunk
	}
	return read, nil
}

// WriteAt writes size bytes from src into ino starting at offset,
// clipped by the inode's current length, and returns the number of
// bytes actually written. Returns 0 while a deny-write reservation is
// held. It never grows the file.
func (t *Table) WriteAt(ino *Inode, src []byte, size int, offset int64) (int, error) {
	ino.mu.Lock()
	denied := ino.denyWriteCnt > 0
	length := ino.data.length
	ino.mu.Unlock()
	if denied {
		return 0, nil
	}

	written := 0
	for written < size {
		sec := byteToSectorLen(ino, offset, length)
		if sec == sector.None {
			break
		}
		secOff := int(offset % sector.Size)
		inodeLeft := length - offset
		sectorLeft := int64(sector.Size - secOff)
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := int64(size - written)
		if minLeft < chunk {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}
		if err := t.cache.Write(sec, src[written:written+int(chunk)], secOff, int(chunk)); err != nil {
			return written, errors.Wrap(err, "cache.Write failed")
		}
		written += int(chunk)
		offset += chunk
	}
	return written, nil
}

func byteToSectorLen(ino *Inode, pos, length int64) sector.ID {
	if pos < length {
		return ino.data.start + sector.ID(pos/sector.Size)
	}
	return sector.None
}

// DenyWrite disables writes to ino for this opener. May be called at
// most once per opener before the matching AllowWrite.
func (t *Table) DenyWrite(ino *Inode) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWriteCnt++
	if ino.denyWriteCnt > ino.openCnt {
		panic(errors.Errorf("inode: deny_write_cnt %d exceeds open_cnt %d", ino.denyWriteCnt, ino.openCnt))
	}
}

// AllowWrite re-enables writes for this opener. Must be called once
// per prior DenyWrite before ino is closed.
func (t *Table) AllowWrite(ino *Inode) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWriteCnt <= 0 {
		panic(errors.New("inode: AllowWrite called without a matching DenyWrite"))
	}
	ino.denyWriteCnt--
}

// Length returns ino's current byte length.
func (t *Table) Length(ino *Inode) int64 {
	return ino.Length()
}
