// Package book implements the memory bookkeeper: the component that
// owns the free-block pool and the heap-extension policy, and maps
// sized-and-aligned requests onto it.
package book

import (
	"errors"

	"github.com/joshuapare/heapkit/heap/audit"
	"github.com/joshuapare/heapkit/heap/block"
	"github.com/joshuapare/heapkit/heap/pool"
	"github.com/joshuapare/heapkit/heap/trace"
	"github.com/joshuapare/heapkit/internal/platform"
)

var (
	// ErrNoSpace indicates the heap source could not provide the
	// requested bytes. The facade turns this into an OOM handler call
	// for the infallible entry points.
	ErrNoSpace = errors.New("book: out of memory")

	// ErrCannotInplace indicates an in-place reallocation was not
	// possible; the original block is returned intact.
	ErrCannotInplace = errors.New("book: in-place reallocation not possible")
)

// BRK canonicalization. Moving the break is a syscall-shaped cost, so
// requests are padded: the heap grows by extra bytes proportional to
// the request, clamped, and never less than a floor. Padding flows into
// the pool, so nothing is wasted.
const (
	brkMin        = 200
	brkMultiplier = 1
	brkMaxExtra   = 10000
)

// DefaultTrimThreshold is the excess free tail, in bytes, above which
// the break is lowered and the memory returned to the platform.
const DefaultTrimThreshold = 64 << 10

// initialPoolCap is the entry capacity of the first pool storage.
const initialPoolCap = 32

// Source supplies fresh heap bytes. The global keeper's source is the
// break manager; local keepers draw from the global allocator instead.
type Source interface {
	Extend(n uintptr) (block.Block, error)
}

// ReleasingSource is a Source that can also take tail memory back.
// Only sources backed by the real break support trimming.
type ReleasingSource interface {
	Source
	Release(b block.Block) error
	Current() uintptr
}

// Config carries the bookkeeper's tunables.
type Config struct {
	// TrimThreshold is the free-tail size above which memory is
	// returned to the source. Zero disables trimming.
	TrimThreshold uintptr

	// Security zeroes every block on free so heap contents do not
	// outlive their owner.
	Security bool

	// DebugTools enables the audit ledger (double free, leak, wrong
	// size) and full invariant validation before and after every
	// operation.
	DebugTools bool
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{TrimThreshold: DefaultTrimThreshold}
}

// Stats holds operation counters for instrumentation and tests.
type Stats struct {
	AllocCalls   int
	FreeCalls    int
	ReallocCalls int
	InplaceHits  int // reallocs satisfied without copying
	FreshAllocs  int // allocations that had to extend the heap

	BrkBytes     uintptr // total bytes obtained from the source
	TrimmedBytes uintptr // bytes handed back via trimming
	LiveBytes    int64   // net bytes out (negative with donations)

	PooledBytes  uintptr // free bytes currently in the pool
	StorageBytes uintptr // bytes held by the pool's own storage
}

// Keeper is the bookkeeper: a free-block pool plus a heap source.
// A Keeper is not safe for concurrent use; the facade serializes
// access to the global one.
type Keeper struct {
	pool   pool.List
	src    Source
	cfg    Config
	stats  Stats
	ledger *audit.Ledger

	inOp      bool // reentrancy flag: set for the span of a public op
	reserving bool // guards pool storage growth against recursion
}

// New creates a keeper drawing heap bytes from src.
func New(src Source, cfg Config) *Keeper {
	k := &Keeper{src: src, cfg: cfg}
	if cfg.DebugTools {
		k.ledger = audit.NewLedger()
	}
	return k
}

// Alloc returns a block of exactly size bytes whose base is a multiple
// of a. Zero-sized requests return the sentinel block without touching
// the pool. On exhaustion ErrNoSpace is returned; the block result is
// then meaningless.
func (k *Keeper) Alloc(size, a uintptr) (block.Block, error) {
	k.enter()
	defer k.exit()
	k.stats.AllocCalls++

	if size == 0 {
		return block.Empty(zeroSentinel(a)), nil
	}
	if err := k.ensureStorage(); err != nil {
		return block.Block{}, err
	}
	b, err := k.alloc(size, a)
	if err != nil {
		return block.Block{}, err
	}
	if k.ledger != nil {
		k.ledger.OnAlloc(b)
	}
	k.stats.LiveBytes += int64(b.Size())
	if trace.Enabled() {
		trace.Op("alloc", "block", b.String(), "align", a, "pool", trace.Render(k.pool.Snapshot()))
	}
	return b, nil
}

// Free returns a block to the pool, coalescing with its neighbors. The
// block need not have originated here: donating a foreign span (static
// memory, another arena) is legal as long as it overlaps nothing live.
// The caller asserts uniqueness; freeing the same span twice is
// undefined in release builds and fatal under DebugTools.
func (k *Keeper) Free(b block.Block) {
	k.enter()
	defer k.exit()
	k.stats.FreeCalls++

	if b.IsEmpty() {
		return
	}
	if err := k.ensureStorage(); err != nil {
		// Nowhere to record the span. Dropping it leaks; corrupting
		// the pool would be worse.
		return
	}
	k.release(b)
	k.trim()
	if trace.Enabled() {
		trace.Op("free", "block", b.String(), "pool", trace.Render(k.pool.Snapshot()))
	}
}

// Realloc resizes a block, preserving the first min(old, new) bytes.
// Shrinking splits in place. Growing first tries to absorb the
// adjacent free neighbor; only then does it fall back to
// allocate-copy-free. On ErrNoSpace the original block is still valid.
func (k *Keeper) Realloc(b block.Block, newSize, a uintptr) (block.Block, error) {
	k.enter()
	defer k.exit()
	k.stats.ReallocCalls++

	if err := k.ensureStorage(); err != nil {
		return b, err
	}
	oldSize := b.Size()
	if res, err := k.reallocInplace(b, newSize); err == nil {
		k.stats.InplaceHits++
		k.relabel(b.Base(), oldSize, res)
		return res, nil
	}

	res, err := k.alloc(newSize, a)
	if err != nil {
		return b, err
	}
	b.CopyTo(res)
	k.release(b)
	if k.ledger != nil {
		k.ledger.OnAlloc(res)
	}
	k.stats.LiveBytes += int64(res.Size())
	if trace.Enabled() {
		trace.Op("realloc", "from", b.String(), "to", res.String(), "pool", trace.Render(k.pool.Snapshot()))
	}
	return res, nil
}

// ReallocInplace resizes a block without ever copying. Shrinking always
// succeeds. Growing succeeds iff the adjacent free neighbor covers the
// deficit; the returned base then equals the input base. On failure the
// original block is returned intact with ErrCannotInplace.
func (k *Keeper) ReallocInplace(b block.Block, newSize uintptr) (block.Block, error) {
	k.enter()
	defer k.exit()
	k.stats.ReallocCalls++

	if err := k.ensureStorage(); err != nil {
		return b, err
	}
	oldSize := b.Size()
	res, err := k.reallocInplace(b, newSize)
	if err != nil {
		return b, err
	}
	k.stats.InplaceHits++
	k.relabel(b.Base(), oldSize, res)
	return res, nil
}

// Stats returns a snapshot of the keeper's counters.
func (k *Keeper) Stats() Stats {
	s := k.stats
	s.PooledBytes = k.pool.Bytes()
	s.StorageBytes = k.pool.Storage().Size()
	return s
}

// Snapshot copies the free pool's non-empty entries, in address order.
func (k *Keeper) Snapshot() []block.Block {
	return k.pool.Snapshot()
}

// Validate checks the pool invariants.
func (k *Keeper) Validate() error {
	return k.pool.Validate()
}

// AssertNoLeak verifies, under DebugTools, that every handed-out block
// has been returned.
func (k *Keeper) AssertNoLeak() {
	if k.ledger != nil {
		k.ledger.AssertNoLeak()
	}
}

// Drain hands every pooled block, and finally the pool's own storage,
// to f, leaving the keeper empty. Used when a local allocator is
// destroyed and its memory flows back to the global pool.
func (k *Keeper) Drain(f func(block.Block)) {
	for _, e := range k.pool.Snapshot() {
		f(e)
	}
	storage := k.pool.Storage()
	k.pool = pool.List{}
	if !storage.IsEmpty() {
		f(storage)
	}
}

// ----- internals -----

// zeroSentinel is the well-known address handed out for zero-sized
// requests: non-null, divisible by the requested alignment, never
// dereferenced, and free of charge to release.
func zeroSentinel(a uintptr) uintptr {
	if a <= 1 {
		return 1
	}
	return a
}

func canonicalizeBrk(min uintptr) uintptr {
	extra := min * brkMultiplier
	if extra > brkMaxExtra {
		extra = brkMaxExtra
	}
	res := min + extra
	if res < brkMin {
		res = brkMin
	}
	if res < min { // overflow
		res = min
	}
	return res
}

func (k *Keeper) enter() {
	if k.inOp {
		platform.Fatal("book: reentrant bookkeeper operation")
	}
	k.inOp = true
	if k.cfg.DebugTools {
		if err := k.pool.Validate(); err != nil {
			platform.Fatal(err.Error())
		}
	}
}

// exit performs the deferred tail work of every public operation:
// growing the pool storage while headroom remains, and validating
// invariants under DebugTools.
func (k *Keeper) exit() {
	k.ensureHeadroom()
	if k.cfg.DebugTools {
		if err := k.pool.Validate(); err != nil {
			platform.Fatal(err.Error())
		}
	}
	k.inOp = false
}

// alloc finds a fitting pool entry or extends the heap.
func (k *Keeper) alloc(size, a uintptr) (block.Block, error) {
	if i, ok := k.pool.FindFit(size, a); ok {
		return k.pool.TakeAt(i, size, a), nil
	}
	return k.allocFresh(size, a)
}

// allocFresh obtains new heap space from the source. The request is
// canonicalized and padded with the alignment as precursor, so the
// aligned block is guaranteed to fit; padding and excess go back to
// the pool.
func (k *Keeper) allocFresh(size, a uintptr) (block.Block, error) {
	brkSize := canonicalizeBrk(size) + a
	if brkSize < size {
		return block.Block{}, ErrNoSpace
	}
	fresh, err := k.src.Extend(brkSize)
	if err != nil {
		return block.Block{}, ErrNoSpace
	}
	k.stats.FreshAllocs++
	k.stats.BrkBytes += brkSize

	pad, rest, ok := fresh.AlignSplit(a)
	if !ok {
		platform.Fatal("book: alignment precursor did not fit the fresh block")
	}
	res, excess := rest.SplitAt(size)
	k.pool.Insert(pad)
	k.pool.Insert(excess)
	return res, nil
}

// release puts a block back into the pool, zeroing first in secure
// mode and updating the debug tables.
func (k *Keeper) release(b block.Block) {
	if b.IsEmpty() {
		return
	}
	if k.cfg.Security {
		b.Zero()
	}
	if k.ledger != nil {
		k.ledger.OnFree(b)
	}
	if k.cfg.DebugTools && k.pool.Overlaps(b) {
		platform.Fatal("book: double free of " + b.String())
	}
	k.stats.LiveBytes -= int64(b.Size())
	k.pool.Insert(b)
}

// stash returns an internal fragment to the pool. Unlike release it
// leaves the ledger and live accounting alone: the fragment was never a
// block of its own, only a piece of one (relabel settles the books).
func (k *Keeper) stash(b block.Block) {
	if b.IsEmpty() {
		return
	}
	if k.cfg.Security {
		b.Zero()
	}
	k.pool.Insert(b)
}

func (k *Keeper) reallocInplace(b block.Block, newSize uintptr) (block.Block, error) {
	if newSize <= b.Size() {
		res, excess := b.SplitAt(newSize)
		k.stash(excess)
		return res, nil
	}
	i, ok := k.pool.NeighborAt(b.End())
	if !ok {
		return b, ErrCannotInplace
	}
	if b.Size()+k.pool.At(i).Size() < newSize {
		return b, ErrCannotInplace
	}
	taken := k.pool.RemoveAt(i)
	b.MergeRight(&taken)
	res, excess := b.SplitAt(newSize)
	k.pool.Insert(excess)
	return res, nil
}

// relabel updates the ledger and live accounting after an in-place
// resize: the span at base changed from oldSize to res.
func (k *Keeper) relabel(base, oldSize uintptr, res block.Block) {
	if k.ledger != nil {
		k.ledger.OnFree(block.New(base, oldSize))
		k.ledger.OnAlloc(res)
	}
	k.stats.LiveBytes += int64(res.Size()) - int64(oldSize)
	if trace.Enabled() {
		trace.Op("realloc_inplace", "block", res.String(), "pool", trace.Render(k.pool.Snapshot()))
	}
}

// trim returns an oversized free tail to the source. Only sources that
// can release (the real break) participate, and only memory the source
// handed out is eligible: the manager refuses donated spans.
func (k *Keeper) trim() {
	rs, ok := k.src.(ReleasingSource)
	if !ok || k.cfg.TrimThreshold == 0 {
		return
	}
	i, ok := k.pool.Tail()
	if !ok {
		return
	}
	e := k.pool.At(i)
	if e.Size() <= k.cfg.TrimThreshold || e.End() != rs.Current() {
		return
	}
	removed := k.pool.RemoveAt(i)
	if err := rs.Release(removed); err != nil {
		k.pool.Insert(removed)
		return
	}
	k.stats.TrimmedBytes += removed.Size()
	if trace.Enabled() {
		trace.Op("trim", "block", removed.String(), "pool", trace.Render(k.pool.Snapshot()))
	}
}

// ensureStorage bootstraps the pool's backing block on first use.
func (k *Keeper) ensureStorage() error {
	if k.pool.Cap() > 0 {
		return nil
	}
	need := uintptr(initialPoolCap)*pool.EntrySize + pool.EntryAlign
	fresh, err := k.src.Extend(need)
	if err != nil {
		return ErrNoSpace
	}
	k.stats.BrkBytes += need
	pad, rest, ok := fresh.AlignSplit(pool.EntryAlign)
	if !ok {
		platform.Fatal("book: cannot align initial pool storage")
	}
	k.pool.SetStorage(rest)
	k.pool.Insert(pad)
	return nil
}

// ensureHeadroom grows the pool's backing storage once fewer than
// pool.Headroom spare slots remain. Growth allocates from this very
// heap; the reserving flag keeps the nested allocation from recursing,
// and the headroom guarantees its inserts still have slots.
func (k *Keeper) ensureHeadroom() {
	if k.reserving || !k.pool.NeedGrow() {
		return
	}
	if k.pool.Cap() == 0 {
		// Nothing to grow yet; ensureStorage bootstraps on the first
		// operation that actually needs the pool.
		return
	}
	k.reserving = true
	defer func() { k.reserving = false }()

	newCap := k.pool.Cap() * 2
	if newCap < initialPoolCap {
		newCap = initialPoolCap
	}
	nb, err := k.alloc(uintptr(newCap)*pool.EntrySize, pool.EntryAlign)
	if err != nil {
		// Headroom is not yet exhausted; the next operation retries.
		return
	}
	old := k.pool.SetStorage(nb)
	k.pool.Insert(old)
}
