// Package cache holds per-range commitment breakdowns built from the remote
// job list. Builds are coalesced per key and populated in two phases: firm
// jobs before the result is published, soft jobs in the background after.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/example/rms-availability/internal/internaltypes"
	"github.com/example/rms-availability/internal/jobs"
	"github.com/example/rms-availability/internal/metrics"
)

const (
	DefaultTTL            = 15 * time.Minute
	DefaultSoftBatchSize  = 15
	DefaultSoftBatchPause = 1500 * time.Millisecond

	phaseFirm = "firm"
	phaseSoft = "soft"
)

// Source lists jobs and their line items from the remote system.
type Source interface {
	OverlappingJobs(ctx context.Context, start, end string) ([]jobs.Job, error)
	JobItems(ctx context.Context, jobID int64) ([]jobs.LineItem, error)
}

type Options struct {
	TTL            time.Duration
	SoftBatchSize  int
	SoftBatchPause time.Duration
	Rules          jobs.Rules

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Now is the clock used for record age.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.SoftBatchSize <= 0 {
		o.SoftBatchSize = DefaultSoftBatchSize
	}
	if o.SoftBatchPause < 0 {
		o.SoftBatchPause = 0
	}
	if o.Rules == (jobs.Rules{}) {
		o.Rules = jobs.DefaultRules()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Cache struct {
	src  Source
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	records  map[Key]*record
	building map[Key]uint64
	gen      uint64

	sf   singleflight.Group
	soft sync.WaitGroup
	bg   context.Context
	stop context.CancelFunc
}

func New(src Source, opts Options) *Cache {
	opts.setDefaults()
	bg, stop := context.WithCancel(context.Background())
	return &Cache{
		src:      src,
		opts:     opts,
		log:      opts.Logger.With(zap.String("component", "cache")),
		records:  make(map[Key]*record),
		building: make(map[Key]uint64),
		bg:       bg,
		stop:     stop,
	}
}

// GetCommitments returns the commitments for key, building them if no fresh
// record exists. Concurrent callers for the same key share one build. If ctx
// ends first the caller gets ctx.Err() and the build carries on.
func (c *Cache) GetCommitments(ctx context.Context, key Key) (Snapshot, error) {
	if _, _, err := jobs.ParseRange(key.Start, key.End); err != nil {
		return nil, fmt.Errorf("%w: %v", internaltypes.ErrBadRequest, err)
	}

	c.mu.Lock()
	rec := c.freshLocked(key)
	c.mu.Unlock()
	if rec != nil {
		c.opts.Metrics.CacheLookup("hit")
		return rec.snapshot(), nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(flightKey(key), func() (any, error) {
		return c.build(detached, key)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.opts.Metrics.CacheLookup("shared")
		} else {
			c.opts.Metrics.CacheLookup("miss")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*record).snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prewarm builds the record for key without returning it.
func (c *Cache) Prewarm(ctx context.Context, key Key) error {
	_, err := c.GetCommitments(ctx, key)
	return err
}

// ClearAll drops every record and build marker. Builds already running still
// answer their waiters but do not publish.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	for k := range c.building {
		c.sf.Forget(flightKey(k))
	}
	dropped := len(c.records)
	c.records = make(map[Key]*record)
	c.building = make(map[Key]uint64)
	c.log.Info("cache cleared", zap.Int("records", dropped))
}

// Wait blocks until background soft-phase work has finished.
func (c *Cache) Wait() {
	c.soft.Wait()
}

// Close abandons background work and waits for it to stop.
func (c *Cache) Close() {
	c.stop()
	c.soft.Wait()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	st := Stats{Records: []RecordStats{}, Building: []Key{}}
	for k, rec := range c.records {
		builtAt, softComplete, items := rec.stats()
		st.Records = append(st.Records, RecordStats{
			Key:          k,
			BuiltAt:      builtAt,
			Age:          now.Sub(builtAt),
			SoftComplete: softComplete,
			Items:        items,
		})
	}
	for k := range c.building {
		st.Building = append(st.Building, k)
	}
	return st
}

type classified struct {
	job   jobs.Job
	class jobs.Classification
}

func (c *Cache) build(ctx context.Context, key Key) (*record, error) {
	c.mu.Lock()
	if rec := c.freshLocked(key); rec != nil {
		c.mu.Unlock()
		return rec, nil
	}
	gen := c.gen
	c.building[key] = gen
	c.mu.Unlock()
	defer c.release(key, gen)

	// validated by GetCommitments
	start, end, _ := jobs.ParseRange(key.Start, key.End)
	began := time.Now()
	log := c.log.With(zap.String("start", key.Start), zap.String("end", key.End), zap.Int64("excluded_job_id", key.ExcludedJobID))

	list, err := c.src.OverlappingJobs(ctx, key.Start, key.End)
	if err != nil {
		c.opts.Metrics.CacheBuild(phaseFirm, "error", time.Since(began))
		log.Warn("job listing failed", zap.Error(err))
		return nil, err
	}
	firm, soft := c.partition(list, key.ExcludedJobID, start, end)

	rec := newRecord()
	var g errgroup.Group
	for _, p := range firm {
		g.Go(func() error {
			c.apply(ctx, rec, p, start, end, phaseFirm)
			return nil
		})
	}
	_ = g.Wait()

	rec.builtAt = c.opts.Now()
	rec.softComplete = len(soft) == 0
	published := c.publish(key, gen, rec)

	c.opts.Metrics.CacheBuild(phaseFirm, "ok", time.Since(began))
	log.Info("firm commitments built",
		zap.Int("listed", len(list)),
		zap.Int("firm", len(firm)),
		zap.Int("soft", len(soft)),
		zap.Bool("published", published),
		zap.Duration("took", time.Since(began)),
	)

	if published && len(soft) > 0 {
		c.soft.Add(1)
		go c.runSoft(key, gen, rec, soft, start, end)
	}
	return rec, nil
}

// partition keeps dated jobs overlapping [start, end], drops the excluded
// job, and splits the rest into firm and soft.
func (c *Cache) partition(list []jobs.Job, excluded int64, start, end time.Time) (firm, soft []classified) {
	for _, j := range list {
		if excluded != 0 && j.ID == excluded {
			continue
		}
		if !j.Overlaps(start, end) {
			continue
		}
		class := c.opts.Rules.Classify(j)
		switch {
		case class.Firm():
			firm = append(firm, classified{job: j, class: class})
		case class == jobs.SoftProvisional:
			soft = append(soft, classified{job: j, class: class})
		}
	}
	return firm, soft
}

// apply fetches one job's lines and adds them to rec. A failed fetch skips
// the job.
func (c *Cache) apply(ctx context.Context, rec *record, p classified, start, end time.Time, phase string) {
	items, err := c.src.JobItems(ctx, p.job.ID)
	if err != nil {
		c.opts.Metrics.CacheSkippedJob(phase)
		c.log.Warn("skipping job",
			zap.Int64("job_id", p.job.ID),
			zap.String("phase", phase),
			zap.Error(err),
		)
		return
	}
	name := p.job.DisplayName()
	for _, li := range items {
		if li.ItemID <= 0 || li.Quantity <= 0 || !li.Overlaps(start, end) {
			continue
		}
		rec.add(li.ItemID, p.job.LocationID, Contribution{
			JobID:          p.job.ID,
			JobName:        name,
			Quantity:       li.Quantity,
			Classification: p.class,
		})
	}
}

func (c *Cache) runSoft(key Key, gen uint64, rec *record, soft []classified, start, end time.Time) {
	defer c.soft.Done()
	began := time.Now()
	size := c.opts.SoftBatchSize

	for i := 0; i < len(soft); i += size {
		if i > 0 {
			if err := sleep(c.bg, c.opts.SoftBatchPause); err != nil {
				c.opts.Metrics.CacheBuild(phaseSoft, "canceled", time.Since(began))
				return
			}
		}
		if c.generation() != gen {
			c.opts.Metrics.CacheBuild(phaseSoft, "abandoned", time.Since(began))
			c.log.Debug("cache cleared, abandoning soft phase", zap.String("start", key.Start), zap.String("end", key.End))
			return
		}

		var g errgroup.Group
		for _, p := range soft[i:min(i+size, len(soft))] {
			g.Go(func() error {
				c.apply(c.bg, rec, p, start, end, phaseSoft)
				return nil
			})
		}
		_ = g.Wait()
	}

	rec.markSoftComplete()
	c.opts.Metrics.CacheBuild(phaseSoft, "ok", time.Since(began))
	c.log.Info("soft commitments built",
		zap.String("start", key.Start),
		zap.String("end", key.End),
		zap.Int("soft", len(soft)),
		zap.Duration("took", time.Since(began)),
	)
}

func (c *Cache) freshLocked(key Key) *record {
	rec, ok := c.records[key]
	if !ok || c.opts.Now().Sub(rec.builtAt) >= c.opts.TTL {
		return nil
	}
	return rec
}

// publish stores rec unless the cache was cleared since the build began.
// Expired records are pruned on the way.
func (c *Cache) publish(key Key, gen uint64, rec *record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	now := c.opts.Now()
	for k, r := range c.records {
		if now.Sub(r.builtAt) >= c.opts.TTL {
			delete(c.records, k)
		}
	}
	c.records[key] = rec
	return true
}

func (c *Cache) release(key Key, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.building[key]; ok && g == gen {
		delete(c.building, key)
	}
}

func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func flightKey(k Key) string {
	return fmt.Sprintf("%q|%q|%d", k.Start, k.End, k.ExcludedJobID)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
