package fatvol

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/aligator/fatvol/checkpoint"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultCacheBlocks is the number of clean blocks a BlockCache keeps by default.
const DefaultCacheBlocks = 256

// BlockCache is a write-back Cache on top of a device file.
//
// Dirty blocks stay in memory until the job they belong to is executed or the cache is synced.
// Clean blocks are kept in a LRU cache.
type BlockCache struct {
	mu sync.Mutex

	dev        afero.File
	lbSize     int
	lbSizeLog2 uint8
	lbCount    uint32

	clean   *lru.Cache
	dirty   map[uint32]*dirtyBlock
	jobs    map[JobHandle]*writeJob
	lastJob JobHandle

	log       logrus.FieldLogger
	writeHook func(lb uint32, typ LbType) error
}

type dirtyBlock struct {
	data []byte
	typ  LbType
	job  JobHandle
}

type writeJob struct {
	deps   []JobHandle
	blocks map[uint32]struct{}

	// heirs took over blocks of this job.
	heirs []JobHandle
}

// BlockCacheOption configures a BlockCache.
type BlockCacheOption func(c *BlockCache) error

// WithCacheBlocks sets the number of clean blocks kept in memory.
func WithCacheBlocks(n int) BlockCacheOption {
	return func(c *BlockCache) error {
		clean, err := lru.New(n)
		if err != nil {
			return checkpoint.Wrap(err, ErrInvalidArgument)
		}
		c.clean = clean
		return nil
	}
}

// WithCacheLogger sets the logger used by the cache.
func WithCacheLogger(log logrus.FieldLogger) BlockCacheOption {
	return func(c *BlockCache) error {
		c.log = log
		return nil
	}
}

// WithWriteHook registers a function called before each block is written to the device.
// If it returns an error the write is aborted with that error.
func WithWriteHook(hook func(lb uint32, typ LbType) error) BlockCacheOption {
	return func(c *BlockCache) error {
		c.writeHook = hook
		return nil
	}
}

// NewBlockCache creates a cache for the given device using blocks of lbSize bytes.
// The block count is derived from the current device size.
func NewBlockCache(dev afero.File, lbSize int, opts ...BlockCacheOption) (*BlockCache, error) {
	if lbSize < 512 || lbSize > 4096 || lbSize&(lbSize-1) != 0 {
		return nil, checkpoint.Wrap(fmt.Errorf("block size %d", lbSize), ErrInvalidArgument)
	}

	stat, err := dev.Stat()
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	c := &BlockCache{
		dev:        dev,
		lbSize:     lbSize,
		lbSizeLog2: uint8(bits.TrailingZeros(uint(lbSize))),
		lbCount:    uint32(stat.Size() / int64(lbSize)),
		dirty:      make(map[uint32]*dirtyBlock),
		jobs:       make(map[JobHandle]*writeJob),
		log:        logrus.StandardLogger(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.clean == nil {
		c.clean, err = lru.New(DefaultCacheBlocks)
		if err != nil {
			return nil, checkpoint.Wrap(err, ErrAlloc)
		}
	}

	return c, nil
}

func (c *BlockCache) LbSizeLog2() uint8 {
	return c.lbSizeLog2
}

func (c *BlockCache) LbCount() uint32 {
	return c.lbCount
}

func (c *BlockCache) Read(lb uint32, typ LbType, fn func(buf []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load(lb)
	if err != nil {
		return err
	}
	return fn(data)
}

func (c *BlockCache) Modify(lb uint32, typ LbType, job JobHandle, fn func(buf []byte) error) (JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load(lb)
	if err != nil {
		return job, err
	}

	buf := make([]byte, c.lbSize)
	copy(buf, data)
	return c.store(lb, typ, job, buf, fn)
}

func (c *BlockCache) Write(lb uint32, typ LbType, job JobHandle, fn func(buf []byte) error) (JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lb >= c.lbCount {
		return job, checkpoint.Wrap(fmt.Errorf("block %d out of range", lb), ErrIO)
	}

	return c.store(lb, typ, job, make([]byte, c.lbSize), fn)
}

func (c *BlockCache) Append(job JobHandle) (JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.newJob()
	if _, ok := c.jobs[job]; ok {
		c.jobs[id].deps = append(c.jobs[id].deps, job)
	}
	return id, nil
}

func (c *BlockCache) Join(dep, job JobHandle) (JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[job]
	if !ok {
		job = c.newJob()
		j = c.jobs[job]
	}

	if _, ok := c.jobs[dep]; ok && dep != job {
		j.deps = append(j.deps, dep)
	}
	return job, nil
}

func (c *BlockCache) Exec(job JobHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flushJob(job, make(map[JobHandle]bool))
}

func (c *BlockCache) Trim(lb, count uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := lb; i < lb+count; i++ {
		if b, ok := c.dirty[i]; ok {
			if j, ok := c.jobs[b.job]; ok {
				delete(j.blocks, i)
			}
			delete(c.dirty, i)
		}
		c.clean.Remove(i)
	}

	c.log.WithFields(logrus.Fields{"lb": lb, "count": count}).Trace("trimmed blocks")
	return nil
}

func (c *BlockCache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]JobHandle, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	visited := make(map[JobHandle]bool)
	for _, id := range ids {
		if err := c.flushJob(id, visited); err != nil {
			return err
		}
	}

	lbs := make([]uint32, 0, len(c.dirty))
	for lb := range c.dirty {
		lbs = append(lbs, lb)
	}
	sort.Slice(lbs, func(i, j int) bool { return lbs[i] < lbs[j] })

	for _, lb := range lbs {
		if err := c.writeBack(lb); err != nil {
			return err
		}
	}

	if err := c.dev.Sync(); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return nil
}

// Pending returns the number of dirty blocks.
func (c *BlockCache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.dirty)
}

func (c *BlockCache) newJob() JobHandle {
	c.lastJob++
	c.jobs[c.lastJob] = &writeJob{blocks: make(map[uint32]struct{})}
	return c.lastJob
}

// load returns the current content of a block. The result must not be modified.
func (c *BlockCache) load(lb uint32) ([]byte, error) {
	if lb >= c.lbCount {
		return nil, checkpoint.Wrap(fmt.Errorf("block %d out of range", lb), ErrIO)
	}

	if b, ok := c.dirty[lb]; ok {
		return b.data, nil
	}
	if data, ok := c.clean.Get(lb); ok {
		return data.([]byte), nil
	}

	data := make([]byte, c.lbSize)
	if _, err := c.dev.ReadAt(data, int64(lb)<<c.lbSizeLog2); err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}
	c.clean.Add(lb, data)
	return data, nil
}

// store runs fn on buf and, if it succeeds, registers buf as new dirty content of lb.
func (c *BlockCache) store(lb uint32, typ LbType, job JobHandle, buf []byte, fn func(buf []byte) error) (JobHandle, error) {
	if err := fn(buf); err != nil {
		return job, err
	}

	if job != VoidJob {
		if _, ok := c.jobs[job]; !ok {
			job = c.newJob()
		}
	}

	prev, ok := c.dirty[lb]
	switch {
	case !ok:
		c.dirty[lb] = &dirtyBlock{data: buf, typ: typ, job: job}
		c.clean.Remove(lb)
	case job == VoidJob || prev.job == job:
		// Keep the block in the job it already belongs to.
		prev.data = buf
		return job, nil
	default:
		if old, ok := c.jobs[prev.job]; ok {
			delete(old.blocks, lb)
			old.heirs = append(old.heirs, job)
			c.jobs[job].deps = append(c.jobs[job].deps, prev.job)
		}
		prev.data = buf
		prev.typ = typ
		prev.job = job
	}

	if job != VoidJob {
		c.jobs[job].blocks[lb] = struct{}{}
	}
	return job, nil
}

func (c *BlockCache) flushJob(id JobHandle, visited map[JobHandle]bool) error {
	j, ok := c.jobs[id]
	if !ok || visited[id] {
		return nil
	}
	visited[id] = true

	for _, dep := range j.deps {
		if err := c.flushJob(dep, visited); err != nil {
			return err
		}
	}

	lbs := make([]uint32, 0, len(j.blocks))
	for lb := range j.blocks {
		lbs = append(lbs, lb)
	}
	sort.Slice(lbs, func(a, b int) bool { return lbs[a] < lbs[b] })

	for _, lb := range lbs {
		if err := c.writeBack(lb); err != nil {
			return err
		}
		delete(j.blocks, lb)
	}
	delete(c.jobs, id)

	for _, heir := range j.heirs {
		if err := c.flushJob(heir, visited); err != nil {
			return err
		}
	}
	return nil
}

func (c *BlockCache) writeBack(lb uint32) error {
	b, ok := c.dirty[lb]
	if !ok {
		return nil
	}

	if c.writeHook != nil {
		if err := c.writeHook(lb, b.typ); err != nil {
			return checkpoint.Wrap(err, ErrIO)
		}
	}

	if _, err := c.dev.WriteAt(b.data, int64(lb)<<c.lbSizeLog2); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}

	delete(c.dirty, lb)
	c.clean.Add(lb, b.data)
	return nil
}
