package frame

import "sync"

// TestingAllocator is a fake KernelAllocator handing out sequential
// page addresses, for use in tests that don't need a real physical
// allocator.
type TestingAllocator struct {
	mu    sync.Mutex
	next  uintptr
	freed []uintptr
	limit int
	given int
}

// NewTestingAllocator returns an allocator that will hand out at most
// limit pages before reporting exhaustion. limit <= 0 means unlimited.
func NewTestingAllocator(limit int) *TestingAllocator {
	return &TestingAllocator{next: 0x1000, limit: limit}
}

func (a *TestingAllocator) GetPage(flags int) (uintptr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.given >= a.limit {
		return 0, false
	}
	kpage := a.next
	a.next += 0x1000
	a.given++
	return kpage, true
}

func (a *TestingAllocator) FreePage(kpage uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freed = append(a.freed, kpage)
}

// TestingFreed reports every kpage handed to FreePage, in call order.
func (a *TestingAllocator) TestingFreed() []uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uintptr, len(a.freed))
	copy(out, a.freed)
	return out
}

// TestingPageTable is a fake PageTable backed by a plain map, for
// tests that don't need a real virtual-address space.
type TestingPageTable struct {
	mu      sync.Mutex
	entries map[uintptr]tpte
	nextPTE PTE
}

type tpte struct {
	pte      PTE
	kpage    uintptr
	writable bool
}

// NewTestingPageTable returns an empty page table.
func NewTestingPageTable() *TestingPageTable {
	return &TestingPageTable{entries: make(map[uintptr]tpte), nextPTE: 1}
}

func (p *TestingPageTable) SetPage(vaddr uintptr, kpage uintptr, writable bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[vaddr]; exists {
		return false
	}
	pte := p.nextPTE
	p.nextPTE++
	p.entries[vaddr] = tpte{pte: pte, kpage: kpage, writable: writable}
	return true
}

func (p *TestingPageTable) Lookup(vaddr uintptr) (PTE, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[vaddr]
	if !ok {
		return 0, false
	}
	return e.pte, true
}

func (p *TestingPageTable) GetPage(vaddr uintptr) (uintptr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[vaddr]
	if !ok {
		return 0, false
	}
	return e.kpage, true
}

// TestingClear removes vaddr's mapping, as page_dir_clear_page would,
// for tests exercising unmap-then-remap scenarios.
func (p *TestingPageTable) TestingClear(vaddr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, vaddr)
}
