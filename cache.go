package overgrid

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultNegativeTTL is the window after a decode failure during which
// retries for the same id are rejected without re-decoding.
const DefaultNegativeTTL = 250 * time.Millisecond

// DefaultMaxEntries is the default LRU capacity of a BitmapCache.
const DefaultMaxEntries = 64

// CacheConfig configures a BitmapCache. The zero value is usable: default
// capacity, default negative TTL, the default decode primitive, and a
// HeaderGuard with default limits.
type CacheConfig struct {
	// MaxEntries bounds the number of resolved bitmaps retained. Zero means
	// DefaultMaxEntries; negative disables caching entirely, in which case
	// ownership of every decoded bitmap passes to the callers.
	MaxEntries int
	// NegativeTTL overrides DefaultNegativeTTL.
	NegativeTTL time.Duration
	// Decode overrides the decode primitive. Nil means DefaultDecode.
	Decode DecodeFunc
	// Guard is the pre-decode dimension check. The zero value applies the
	// default limits.
	Guard HeaderGuard

	// now overrides the clock in tests.
	now func() time.Time
}

// cacheRecord tracks one id from the first Get until eviction, invalidation,
// or failure. It exists while the decode is in flight and while a resolved
// bitmap is retained.
type cacheRecord struct {
	id     string
	done   chan struct{} // closed once the decode settles
	bitmap Bitmap        // set before done closes; nil on failure
	err    error

	// waiters counts callers currently blocked on done. Guarded by the
	// cache mutex. When a record is no longer active and the last waiter
	// leaves, the resolved bitmap is orphaned and closed.
	waiters int
	// active marks this record as the cache's current record for its id.
	// Invalidate, Clear, and eviction flip it off; a resolution arriving at
	// an inactive record never repopulates the cache.
	active bool
	// elem is the record's position in LRU order. Nil while in flight:
	// in-flight records are never eviction candidates.
	elem *list.Element
}

type negativeEntry struct {
	at  time.Time
	err error
}

// BitmapCache maps image ids to decoded bitmaps with at-most-one concurrent
// decode per id, LRU eviction over resolved entries, context-based
// cancellation of individual waits, and TTL-based negative caching of
// failures.
//
// The cache is the single owner of every bitmap it retains: a retained
// bitmap is closed exactly once, by whichever of eviction, Invalidate,
// Clear, or orphaned-resolution removes it.
type BitmapCache struct {
	mu         sync.Mutex
	records    map[string]*cacheRecord
	lru        *list.List // of *cacheRecord; front is most recently used
	negative   map[string]negativeEntry
	maxEntries int
	negTTL     time.Duration
	decode     DecodeFunc
	guard      HeaderGuard
	now        func() time.Time
}

// NewBitmapCache creates a cache from cfg. See CacheConfig for defaults.
func NewBitmapCache(cfg CacheConfig) *BitmapCache {
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	} else if maxEntries < 0 {
		maxEntries = 0
	}
	negTTL := cfg.NegativeTTL
	if negTTL <= 0 {
		negTTL = DefaultNegativeTTL
	}
	decode := cfg.Decode
	if decode == nil {
		decode = DefaultDecode
	}
	now := cfg.now
	if now == nil {
		now = time.Now
	}
	return &BitmapCache{
		records:    make(map[string]*cacheRecord),
		lru:        list.New(),
		negative:   make(map[string]negativeEntry),
		maxEntries: maxEntries,
		negTTL:     negTTL,
		decode:     decode,
		guard:      cfg.Guard,
		now:        now,
	}
}

// Get returns the decoded bitmap for entry, starting a decode if none is
// cached or in flight. Concurrent calls for the same id share one decode.
//
// ctx cancels only this caller's wait; a shared decode keeps running for the
// remaining waiters. Bitmaps returned while the record is retained belong to
// the cache and must not be closed by the caller; with caching disabled
// (negative CacheConfig.MaxEntries or SetMaxEntries(0)) ownership passes to
// the callers.
func (c *BitmapCache) Get(ctx context.Context, entry ImageEntry) (Bitmap, error) {
	if entry.ID == "" {
		return nil, errors.New("overgrid: image entry has empty id")
	}
	// An already-aborted caller registers no work and leaves the negative
	// cache untouched.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pruneNegative()
	if neg, ok := c.negative[entry.ID]; ok {
		c.mu.Unlock()
		return nil, neg.err
	}
	if rec, ok := c.records[entry.ID]; ok {
		if rec.elem != nil {
			c.lru.MoveToFront(rec.elem)
		}
		rec.waiters++
		c.mu.Unlock()
		return c.wait(ctx, rec)
	}

	// Header-guard pre-check: validation failures are recorded negatively
	// and never reach the decoder.
	if _, err := c.guard.Check(entry.Bytes); err != nil {
		c.negative[entry.ID] = negativeEntry{at: c.now(), err: err}
		c.mu.Unlock()
		return nil, err
	}

	rec := &cacheRecord{
		id:      entry.ID,
		done:    make(chan struct{}),
		active:  true,
		waiters: 1,
	}
	c.records[entry.ID] = rec
	c.mu.Unlock()

	go c.runDecode(rec, entry)
	return c.wait(ctx, rec)
}

// Peek returns the resolved bitmap for id if one is retained, touching it to
// most-recently-used. It never starts a decode and never blocks.
func (c *BitmapCache) Peek(id string) (Bitmap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok || rec.elem == nil {
		return nil, false
	}
	c.lru.MoveToFront(rec.elem)
	return rec.bitmap, true
}

// FailedRecently reports whether id has an unexpired negative-cache entry.
func (c *BitmapCache) FailedRecently(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneNegative()
	_, ok := c.negative[id]
	return ok
}

// Len returns the number of resolved bitmaps currently retained.
func (c *BitmapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Invalidate removes the record for id, closing its bitmap if resolved, and
// clears the id's negative-cache entry so the next Get retries immediately.
// A decode in flight for id keeps running but can no longer repopulate the
// cache.
func (c *BitmapCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.negative, id)
	if rec, ok := c.records[id]; ok {
		c.retire(rec)
	}
}

// Clear closes and removes all resolved bitmaps. In-flight decodes that
// later resolve find their record inactive and are closed on arrival (unless
// waiters remain to receive them), never repopulating the cache.
func (c *BitmapCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.records {
		c.retire(rec)
	}
	c.lru.Init()
}

// SetMaxEntries updates the capacity and immediately evicts down to the new
// bound, closing evicted bitmaps. n <= 0 disables caching: all retained
// bitmaps are drained and future resolutions pass ownership to their
// waiters.
func (c *BitmapCache) SetMaxEntries(n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
	c.evictOver(n)
}

// runDecode performs the decode for rec and settles it. Always runs on its
// own goroutine; rec.done is closed exactly once, here.
func (c *BitmapCache) runDecode(rec *cacheRecord, entry ImageEntry) {
	bmp, err := c.safeDecode(entry)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(rec.done)

	if err != nil {
		rec.err = err
		if rec.active {
			delete(c.records, rec.id)
			rec.active = false
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				c.negative[rec.id] = negativeEntry{at: c.now(), err: err}
			}
		}
		return
	}

	rec.bitmap = bmp
	if !rec.active {
		// Superseded by Invalidate or Clear while in flight. Waiters, if
		// any, still receive the bitmap and own it; otherwise it is
		// orphaned and closed right here.
		if rec.waiters == 0 {
			bmp.Close()
			rec.bitmap = nil
		}
		return
	}
	if c.maxEntries == 0 {
		// Caching disabled: drop the record without retaining the bitmap.
		delete(c.records, rec.id)
		rec.active = false
		if rec.waiters == 0 {
			bmp.Close()
			rec.bitmap = nil
		}
		return
	}

	// Attach the bitmap and move to most-recently-used in the same critical
	// section, before any waiter can observe the resolution. A freshly
	// resolved entry therefore cannot be evicted before its own caller has
	// seen the bitmap, even under capacity pressure.
	rec.elem = c.lru.PushFront(rec)
	c.evictOver(c.maxEntries)
}

// safeDecode treats a decode panic like a rejected decode.
func (c *BitmapCache) safeDecode(entry ImageEntry) (bmp Bitmap, err error) {
	defer func() {
		if r := recover(); r != nil {
			bmp, err = nil, fmt.Errorf("overgrid: decode panic for image %q: %v", entry.ID, r)
		}
	}()
	return c.decode(context.Background(), entry)
}

// wait blocks until rec settles or ctx is done. The caller must have
// incremented rec.waiters.
func (c *BitmapCache) wait(ctx context.Context, rec *cacheRecord) (Bitmap, error) {
	select {
	case <-rec.done:
		c.mu.Lock()
		rec.waiters--
		bmp, err := rec.bitmap, rec.err
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return bmp, nil
	case <-ctx.Done():
		c.mu.Lock()
		rec.waiters--
		if rec.waiters == 0 && !rec.active {
			// Last waiter gone and the record was separately invalidated:
			// if the decode has already resolved, its bitmap is orphaned.
			select {
			case <-rec.done:
				if rec.bitmap != nil {
					rec.bitmap.Close()
					rec.bitmap = nil
				}
			default:
				// Still in flight; runDecode will close on arrival.
			}
		}
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// evictOver evicts least-recently-used resolved entries until at most limit
// remain. Records with waiters still attached are skipped; they are about to
// be observed and sit at the cold end only transiently.
func (c *BitmapCache) evictOver(limit int) {
	elem := c.lru.Back()
	for elem != nil && c.lru.Len() > limit {
		prev := elem.Prev()
		rec := elem.Value.(*cacheRecord)
		if rec.waiters == 0 {
			c.retire(rec)
		}
		elem = prev
	}
}

// retire removes a record from the map and LRU order and deactivates it.
// The bitmap is closed here only when no waiter remains to receive it;
// removal and close happen in the same step, so no other path can decide to
// close the same bitmap.
func (c *BitmapCache) retire(rec *cacheRecord) {
	if rec.elem != nil {
		c.lru.Remove(rec.elem)
		rec.elem = nil
	}
	delete(c.records, rec.id)
	rec.active = false
	if rec.waiters == 0 && rec.bitmap != nil {
		rec.bitmap.Close()
		rec.bitmap = nil
	}
}

// pruneNegative drops expired negative entries. Called with the mutex held
// on every Get so the map cannot grow unbounded with one-shot failing ids.
func (c *BitmapCache) pruneNegative() {
	if len(c.negative) == 0 {
		return
	}
	cutoff := c.now().Add(-c.negTTL)
	for id, neg := range c.negative {
		if neg.at.Before(cutoff) {
			delete(c.negative, id)
		}
	}
}
