// Package rastermgr implements the managed raster: a pixel-addressable
// view over a tiled raster dataset, backed by one
// internal/tilecache LRU of internal/rastermgr.Block buffers, with
// dirty-tracking and write-back on eviction or close.
package rastermgr

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/geoflow/router/internal/tilecache"
	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
)

// DefaultCacheCapacity is the default LRU size in blocks.
const DefaultCacheCapacity = 64

// ErrBadBlockGeometry is returned by Open when the dataset's block
// dimensions are not both powers of two.
var ErrBadBlockGeometry = errors.New("rastermgr: block dimensions are not powers of two")

// ErrBadBand is returned by Open for an out-of-range band index.
var ErrBadBand = errors.New("rastermgr: band index out of range")

// ManagedRaster is a pixel-addressable, block-cached view over one band
// of a rasterio.Dataset. A dirty block index is always present in the
// cache; dirty blocks are flushed exactly once, on eviction or on Close.
type ManagedRaster struct {
	ds     rasterio.Dataset
	band   int
	mode   rasterio.Mode
	w, h   int
	bw, bh int
	bwLog2 int
	bhLog2 int
	nbx    int

	cache *tilecache.Cache[*Block]
	dirty map[int]struct{}

	lock     *flock.Flock // held only in ModeReadWrite
	lockPath string

	closed bool
	log    *xlog.Logger
}

// Options configures Open beyond the raw (dataset, band, mode) triple.
type Options struct {
	CacheCapacity int // default DefaultCacheCapacity
	// LockPath, if set, is flock'd for the duration of a ModeReadWrite
	// open so two invocations never write the same output concurrently.
	// Read-only opens never lock.
	LockPath string
	Logger   *xlog.Logger
}

// Open wraps ds (already opened by the caller's rasterio.Driver) as a
// ManagedRaster over the given 1-based band. It validates the dataset's
// block geometry and band range.
func Open(ds rasterio.Dataset, band int, mode rasterio.Mode, opts Options) (*ManagedRaster, error) {
	if band < 1 || band > ds.BandCount() {
		return nil, errors.Wrapf(ErrBadBand, "band %d (dataset has %d)", band, ds.BandCount())
	}
	bw, bh := ds.BlockSize()
	bwLog2, ok1 := exactLog2(bw)
	bhLog2, ok2 := exactLog2(bh)
	if !ok1 || !ok2 {
		return nil, errors.Wrapf(ErrBadBlockGeometry, "block size %dx%d", bw, bh)
	}
	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = xlog.Default()
	}
	w, h := ds.Size()
	nbx := (w + bw - 1) / bw

	mr := &ManagedRaster{
		ds: ds, band: band, mode: mode,
		w: w, h: h, bw: bw, bh: bh,
		bwLog2: bwLog2, bhLog2: bhLog2, nbx: nbx,
		cache: tilecache.New[*Block](capacity),
		dirty: make(map[int]struct{}),
		log:   logger,
	}

	if mode == rasterio.ModeReadWrite && opts.LockPath != "" {
		fl := flock.New(opts.LockPath)
		locked, err := fl.TryLock()
		if err != nil {
			return nil, errors.Wrap(err, "rastermgr: acquiring write lock")
		}
		if !locked {
			return nil, errors.Errorf("rastermgr: %s is locked by another writer", opts.LockPath)
		}
		mr.lock = fl
		mr.lockPath = opts.LockPath
	}
	return mr, nil
}

func exactLog2(n int) (int, bool) {
	if n <= 0 || n&(n-1) != 0 {
		return 0, false
	}
	return bits.TrailingZeros(uint(n)), true
}

// Size returns the raster's pixel dimensions.
func (mr *ManagedRaster) Size() (int, int) { return mr.w, mr.h }

// NoData returns the managed band's nodata sentinel, if any.
func (mr *ManagedRaster) NoData() (float64, bool) { return mr.ds.NoData(mr.band) }

func (mr *ManagedRaster) blockIndex(x, y int) (k, bx, by int) {
	bx = x >> mr.bwLog2
	by = y >> mr.bhLog2
	return by*mr.nbx + bx, bx, by
}

// BlockIndex returns the index of the block containing (x, y), for
// callers (e.g. the pit filler's heap tiebreak) that need a deterministic,
// allocator-independent ordering key tied to pixel locality.
func (mr *ManagedRaster) BlockIndex(x, y int) int {
	k, _, _ := mr.blockIndex(x, y)
	return k
}

func (mr *ManagedRaster) blockOrigin(bx, by int) (xoff, yoff, ws, hs int) {
	xoff = bx * mr.bw
	yoff = by * mr.bh
	ws = mr.bw
	if xoff+ws > mr.w {
		ws = mr.w - xoff
	}
	hs = mr.bh
	if yoff+hs > mr.h {
		hs = mr.h - yoff
	}
	return
}

// fetch returns the block containing (x, y), loading it from disk on a
// cache miss and flushing any block the load evicted.
func (mr *ManagedRaster) fetch(x, y int) (*Block, int, int, error) {
	k, bx, by := mr.blockIndex(x, y)
	if blk, ok := mr.cache.Get(k); ok {
		xoff, yoff, _, _ := mr.blockOrigin(bx, by)
		return blk, x - xoff, y - yoff, nil
	}
	blk, err := mr.loadBlock(bx, by, k)
	if err != nil {
		return nil, 0, 0, err
	}
	evicted := mr.cache.Put(k, blk)
	if err := mr.flushEvicted(evicted); err != nil {
		return nil, 0, 0, err
	}
	xoff, yoff, _, _ := mr.blockOrigin(bx, by)
	return blk, x - xoff, y - yoff, nil
}

// loadBlock reads the valid sub-rectangle of block (bx, by) off disk into
// a freshly allocated, zero-padded BW*BH buffer.
func (mr *ManagedRaster) loadBlock(bx, by, k int) (*Block, error) {
	blk := newBlock(k, mr.bw, mr.bh)
	xoff, yoff, ws, hs := mr.blockOrigin(bx, by)
	if ws <= 0 || hs <= 0 {
		return blk, nil
	}
	staging := make([]float64, ws*hs)
	if err := mr.ds.ReadWindow(mr.band, xoff, yoff, ws, hs, staging); err != nil {
		return nil, errors.Wrap(err, "rastermgr: read block")
	}
	for row := 0; row < hs; row++ {
		copy(blk.Buf[row*mr.bw:row*mr.bw+ws], staging[row*ws:row*ws+ws])
	}
	return blk, nil
}

// flushBlock writes a dirty block's valid sub-rectangle back to disk and
// clears its dirty flag.
func (mr *ManagedRaster) flushBlock(blk *Block) error {
	if !blk.Dirty {
		return nil
	}
	bx := blk.Index % mr.nbx
	by := blk.Index / mr.nbx
	xoff, yoff, ws, hs := mr.blockOrigin(bx, by)
	if ws > 0 && hs > 0 {
		staging := make([]float64, ws*hs)
		for row := 0; row < hs; row++ {
			copy(staging[row*ws:row*ws+ws], blk.Buf[row*mr.bw:row*mr.bw+ws])
		}
		if err := mr.ds.WriteWindow(mr.band, xoff, yoff, ws, hs, staging); err != nil {
			return errors.Wrap(err, "rastermgr: write block")
		}
	}
	blk.Dirty = false
	delete(mr.dirty, blk.Index)
	return nil
}

// flushEvicted persists every dirty block displaced from the cache by a
// Put. The invariant that a dirty block index is always present in the
// cache means this is the only place a dirty block can leave the
// cache, other than Close.
func (mr *ManagedRaster) flushEvicted(evicted []tilecache.Evicted[*Block]) error {
	for _, e := range evicted {
		if err := mr.flushBlock(e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Get loads the containing block if absent and returns the pixel value.
func (mr *ManagedRaster) Get(x, y int) (float64, error) {
	blk, lx, ly, err := mr.fetch(x, y)
	if err != nil {
		return 0, err
	}
	return blk.Buf[ly*mr.bw+lx], nil
}

// Set writes a pixel value, loading the containing block if absent and
// marking it dirty. Valid only in ModeReadWrite.
func (mr *ManagedRaster) Set(x, y int, v float64) error {
	if mr.mode != rasterio.ModeReadWrite {
		return errors.New("rastermgr: Set called on a read-only raster")
	}
	blk, lx, ly, err := mr.fetch(x, y)
	if err != nil {
		return err
	}
	blk.Buf[ly*mr.bw+lx] = v
	blk.Dirty = true
	mr.dirty[blk.Index] = struct{}{}
	return nil
}

// Close flushes all dirty cached blocks to disk and releases the write
// lock, if any. Close is idempotent; after the first call all other
// operations have undefined behaviour.
func (mr *ManagedRaster) Close() error {
	if mr.closed {
		return nil
	}
	mr.closed = true

	dirtyBlocks := make([]*Block, 0, len(mr.dirty))
	for idx := range mr.dirty {
		if blk, ok := mr.cache.Get(idx); ok {
			dirtyBlocks = append(dirtyBlocks, blk)
		}
	}

	var flushErr error
	if len(dirtyBlocks) > 1 {
		flushErr = mr.flushConcurrently(dirtyBlocks)
	} else if len(dirtyBlocks) == 1 {
		flushErr = mr.flushBlock(dirtyBlocks[0])
	}

	if mr.lock != nil {
		if err := mr.lock.Unlock(); err != nil && flushErr == nil {
			flushErr = errors.Wrap(err, "rastermgr: releasing write lock")
		}
	}
	if closeErr := mr.ds.Close(); closeErr != nil && flushErr == nil {
		flushErr = errors.Wrap(closeErr, "rastermgr: closing dataset")
	}
	return flushErr
}

// flushConcurrently drains the dirty set from errgroup goroutines. Every
// goroutine takes the same mutex around its whole block flush, so the
// writes themselves run one at a time.
func (mr *ManagedRaster) flushConcurrently(blocks []*Block) error {
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))
	var mu sync.Mutex
	for _, blk := range blocks {
		blk := blk
		g.Go(func() error {
			if err := mr.flushBlockLocked(blk, &mu); err != nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// flushBlockLocked serializes the dataset write calls: rasterio.Dataset
// implementations only promise safe concurrent writes to disjoint
// windows of the *same* underlying file handle when the adapter says so
// (the godal adapter does; memdataset's plain slice does not need it but
// is harmless to serialize). Taking the lock around the whole flushBlock
// call (the WriteWindow and the dirty-set update) keeps this safe for
// every Dataset implementation uniformly.
func (mr *ManagedRaster) flushBlockLocked(blk *Block, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()
	return mr.flushBlock(blk)
}

// fmtBlock is a debug helper describing a block's origin; nothing in the
// module calls it.
func (mr *ManagedRaster) fmtBlock(k int) string {
	bx := k % mr.nbx
	by := k / mr.nbx
	xoff, yoff, ws, hs := mr.blockOrigin(bx, by)
	return fmt.Sprintf("block[%d] @ (%d,%d) %dx%d", k, xoff, yoff, ws, hs)
}
