// Package memory implements managed memory object pairs. A pair has two
// sides sharing one page store: readers lock and map the frontal side,
// and a servicer goroutine populates pages on demand through the backing
// side.
//
// Locking a range enqueues a manage fault for each maximal run of absent
// pages (pages already being loaded are not faulted again) and blocks
// until the whole range is resident. The
// servicer receives faults in FIFO order via SubmitManage, fills the
// faulted window, and calls CompleteLoad to release the waiters. Pages
// are populated at most once and never evicted.
package memory

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-ext2/util"
)

const (
	// PageShift is the host page shift.
	PageShift uint64 = 12
	PageSize  uint64 = 1 << PageShift
)

// RoundUpPage rounds n up to a multiple of the page size, in bytes.
func RoundUpPage(n uint64) uint64 {
	return util.RoundUpBytes(n, PageSize)
}

// Fault is a request to populate [Offset, Offset+Length) of the backing
// side. Both fields are page-aligned.
type Fault struct {
	Offset uint64
	Length uint64
}

type pageState uint8

const (
	pageAbsent pageState = iota
	pageLoading
	pagePresent
)

// object is the state shared by a backing/frontal pair.
type object struct {
	mu    *sync.Mutex
	data  []byte
	pages []pageState

	// pending manage faults, in arrival order
	pending []Fault

	condManage *sync.Cond // servicer waits for pending work
	condLoad   *sync.Cond // lockers wait for residency

	closed bool
}

// Backing is the servicer's side of a managed pair.
type Backing struct {
	o *object
}

// Frontal is the reader's side of a managed pair.
type Frontal struct {
	o *object
}

// Create allocates a managed pair of the given size, rounded up to a
// whole page.
func Create(size uint64) (*Backing, *Frontal) {
	sz := RoundUpPage(size)
	mu := new(sync.Mutex)
	o := &object{
		mu:         mu,
		data:       make([]byte, sz),
		pages:      make([]pageState, sz>>PageShift),
		condManage: sync.NewCond(mu),
		condLoad:   sync.NewCond(mu),
	}
	return &Backing{o: o}, &Frontal{o: o}
}

func (o *object) checkRange(offset uint64, length uint64) {
	if util.SumOverflows(offset, length) || offset+length > uint64(len(o.data)) {
		panic(fmt.Errorf("memory: range %d+%d out of bounds (size %d)",
			offset, length, len(o.data)))
	}
}

// window returns the raw bytes of [offset, offset+length), resident or
// not.
func (o *object) window(offset uint64, length uint64) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkRange(offset, length)
	return o.data[offset : offset+length]
}

// lock blocks until every page of [offset, offset+length) is resident,
// faulting in the absent ones.
func (o *object) lock(offset uint64, length uint64) {
	if length == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkRange(offset, length)

	first := offset >> PageShift
	end := util.RoundUp(offset+length, PageSize)

	// Queue one fault per maximal absent run. Pages never return to
	// absent, so a second pass after waking finds nothing new.
	for p := first; p < end; p++ {
		if o.pages[p] != pageAbsent {
			continue
		}
		q := p
		for q < end && o.pages[q] == pageAbsent {
			o.pages[q] = pageLoading
			q++
		}
		o.pending = append(o.pending, Fault{
			Offset: p << PageShift,
			Length: (q - p) << PageShift,
		})
		o.condManage.Signal()
		p = q
	}

	for !o.resident(first, end) {
		if o.closed {
			panic("memory: lock on closed object")
		}
		o.condLoad.Wait()
	}
}

// resident reports whether pages [first, end) are all present. Caller
// holds mu.
func (o *object) resident(first uint64, end uint64) bool {
	for p := first; p < end; p++ {
		if o.pages[p] != pagePresent {
			return false
		}
	}
	return true
}

func (o *object) submitManage() (Fault, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.pending) == 0 {
		if o.closed {
			return Fault{}, false
		}
		o.condManage.Wait()
	}
	f := o.pending[0]
	o.pending = o.pending[1:]
	return f, true
}

func (o *object) completeLoad(offset uint64, length uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkRange(offset, length)
	first := offset >> PageShift
	end := util.RoundUp(offset+length, PageSize)
	for p := first; p < end; p++ {
		o.pages[p] = pagePresent
	}
	o.condLoad.Broadcast()
}

func (o *object) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.condManage.Broadcast()
	o.condLoad.Broadcast()
}

// Size reports the page-aligned size of the pair.
func (f *Frontal) Size() uint64 {
	return uint64(len(f.o.data))
}

// Lock faults in [offset, offset+length) and blocks until it is
// resident.
func (f *Frontal) Lock(offset uint64, length uint64) {
	f.o.lock(offset, length)
}

// Map returns the window [offset, offset+length) of the page store.
// Callers must Lock the range first if they need its contents.
func (f *Frontal) Map(offset uint64, length uint64) []byte {
	return f.o.window(offset, length)
}

// Close tears the pair down; the servicer's SubmitManage returns false.
func (f *Frontal) Close() {
	f.o.close()
}

// SubmitManage blocks until a manage fault arrives and returns it.
// Returns false when the object has been closed and no faults remain.
func (b *Backing) SubmitManage() (Fault, bool) {
	return b.o.submitManage()
}

// Map returns the window [offset, offset+length) for the servicer to
// fill.
func (b *Backing) Map(offset uint64, length uint64) []byte {
	return b.o.window(offset, length)
}

// CompleteLoad marks [offset, offset+length) resident and wakes any
// lockers waiting on it.
func (b *Backing) CompleteLoad(offset uint64, length uint64) {
	b.o.completeLoad(offset, length)
}

// Close tears the pair down from the backing side.
func (b *Backing) Close() {
	b.o.close()
}
