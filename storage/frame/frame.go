/*
Package frame is the frame table: a mapping from an owned kernel page
(`kpage`) to the set of page-table entries currently referencing it,
so a physical frame shared by several virtual mappings is released
exactly once, when its last mapping goes away.

Structurally this mirrors ppdb's storage/buffer.bufferTable, a keyed
lookup structure plus one lock guarding all of it, generalized from
buffer tags to kernel-page addresses. The algorithm itself (allocate,
install, locate-or-create the frame entry, append the referent; and,
on free, drop one referent and destroy the entry when the set empties)
is grounded on the original Pintos vm/frame.c's frame_get_page and
frame_free_page, which use a hash table keyed by kpage plus an
insertion-ordered list of all live frame entries. This package keeps
that same shape as a Go map plus an ordered slice.

frame_free_page's C form receives a pointer into a page-table entry and
dereferences it to recover the kpage it currently names. The PageTable
interface here does not expose that raw memory access, so Table itself
records the pte->kpage association at install time and consults its
own bookkeeping in FreePage instead of asking the page table again.
*/
package frame

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// debug gates trace output for frame teardown, the same convention
// storage/cache uses.
const debug = false

func tracef(format string, args ...interface{}) {
	if debug {
		fmt.Printf("frame: "+format+"\n", args...)
	}
}

// ErrAlreadyMapped is returned by GetPage when vaddr is already
// installed in the page table.
var ErrAlreadyMapped = errors.New("frame: virtual address already mapped")

// ErrOutOfMemory is returned by GetPage when the kernel allocator has
// no page left to hand out.
var ErrOutOfMemory = errors.New("frame: kernel page allocator exhausted")

// PTE is an opaque handle standing in for a `uint32 *pte` in the
// original: the identity of one page-table slot referencing a frame.
type PTE uintptr

// KernelAllocator is the external physical-frame allocator collaborator:
// obtain and release whole kernel pages.
type KernelAllocator interface {
	GetPage(flags int) (kpage uintptr, ok bool)
	FreePage(kpage uintptr)
}

// PageTable is the external virtual-memory collaborator: install, look
// up, and resolve one task's page-table entries.
type PageTable interface {
	Lookup(vaddr uintptr) (pte PTE, ok bool)
	GetPage(vaddr uintptr) (kpage uintptr, ok bool)
	SetPage(vaddr uintptr, kpage uintptr, writable bool) bool
}

// entry is one frame table record: a kernel page and the page-table
// entries currently referencing it. referents is non-empty for as long
// as entry exists; the entry is destroyed the instant it empties.
type entry struct {
	kpage     uintptr
	referents []PTE
}

// Table is the frame table: a keyed mapping from kpage to frame entry,
// guarded by a single lock, plus an insertion-ordered record of all
// live frames for future eviction policy use (never otherwise read
// here).
type Table struct {
	mu      sync.Mutex
	byKpage map[uintptr]*entry
	byPTE   map[PTE]uintptr
	order   []uintptr
}

// New returns an empty frame table.
func New() *Table {
	return &Table{
		byKpage: make(map[uintptr]*entry),
		byPTE:   make(map[PTE]uintptr),
	}
}

// GetPage obtains a kernel page from alloc, installs it into pt at
// vaddr with the given writable bit, and records the resulting
// page-table entry as a referent of that page's frame entry (creating
// one if this is the first mapping of that kpage). Returns the kernel
// page on success, releasing any page obtained if installation fails.
// Returns ErrOutOfMemory if the allocator is exhausted, or
// ErrAlreadyMapped if vaddr is already installed in pt.
func (t *Table) GetPage(alloc KernelAllocator, pt PageTable, flags int, vaddr uintptr, writable bool) (uintptr, error) {
	kpage, ok := alloc.GetPage(flags)
	if !ok {
		return 0, ErrOutOfMemory
	}
	if !pt.SetPage(vaddr, kpage, writable) {
		alloc.FreePage(kpage)
		return 0, ErrAlreadyMapped
	}
	pte, ok := pt.Lookup(vaddr)
	if !ok {
		alloc.FreePage(kpage)
		return 0, errors.New("frame: page table entry vanished immediately after install")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.byKpage[kpage]
	if !exists {
		e = &entry{kpage: kpage}
		t.byKpage[kpage] = e
		t.order = append(t.order, kpage)
		tracef("new frame entry for kpage %#x", kpage)
	}
	e.referents = append(e.referents, pte)
	t.byPTE[pte] = kpage
	return kpage, nil
}

// FreePage removes pte as a referent of the frame it currently names.
// When that was the frame's last referent, the frame entry is
// destroyed and its kernel page released back to alloc. A pte this
// table has no record of is a no-op.
func (t *Table) FreePage(alloc KernelAllocator, pte PTE) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kpage, ok := t.byPTE[pte]
	if !ok {
		return
	}
	delete(t.byPTE, pte)

	e, ok := t.byKpage[kpage]
	if !ok {
		return
	}
	for i, p := range e.referents {
		if p == pte {
			e.referents = append(e.referents[:i], e.referents[i+1:]...)
			break
		}
	}

	if len(e.referents) > 0 {
		return
	}

	delete(t.byKpage, kpage)
	for i, k := range t.order {
		if k == kpage {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	alloc.FreePage(kpage)
	tracef("destroyed frame entry for kpage %#x", kpage)
}

// Lookup reports whether kpage currently has a live frame entry and,
// if so, how many page-table entries reference it. Test/inspection
// helper for checking that a released frame becomes unreachable.
func (t *Table) Lookup(kpage uintptr) (referents int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byKpage[kpage]
	if !ok {
		return 0, false
	}
	return len(e.referents), true
}
