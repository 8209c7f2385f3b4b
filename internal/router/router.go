// Package router dispatches capability requests to the resolver and cache
// and answers each on its own channel.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/rms-availability/internal/availability"
	"github.com/example/rms-availability/internal/cache"
	"github.com/example/rms-availability/internal/internaltypes"
	"github.com/example/rms-availability/internal/jobs"
	"github.com/example/rms-availability/internal/metrics"
	"github.com/example/rms-availability/internal/settings"
)

const DefaultTimeout = 55 * time.Second

type Capability string

const (
	FetchStock        Capability = "fetch-stock"
	FetchAvailability Capability = "fetch-availability"
	Prewarm           Capability = "prewarm"
	ClearCache        Capability = "clear-cache"
	FetchJob          Capability = "fetch-job"
)

type Request struct {
	ID            string                 `json:"id,omitempty"`
	Capability    Capability             `json:"capability"`
	ItemID        int64                  `json:"item_id,omitempty"`
	Start         string                 `json:"start,omitempty"`
	End           string                 `json:"end,omitempty"`
	ExcludedJobID int64                  `json:"excluded_job_id,omitempty"`
	JobID         int64                  `json:"job_id,omitempty"`
	Override      *availability.Override `json:"override,omitempty"`
}

func (r Request) key() (cache.Key, error) {
	if _, _, err := jobs.ParseRange(r.Start, r.End); err != nil {
		return cache.Key{}, fmt.Errorf("%w: %v", internaltypes.ErrBadRequest, err)
	}
	return cache.Key{Start: r.Start, End: r.End, ExcludedJobID: r.ExcludedJobID}, nil
}

// Response answers one Request. Retryable is set on failures the caller may
// repeat later unchanged.
type Response struct {
	ID        string                      `json:"id"`
	Success   bool                        `json:"success"`
	Error     string                      `json:"error,omitempty"`
	Message   string                      `json:"message,omitempty"`
	Retryable bool                        `json:"retryable,omitempty"`
	Locations []availability.Report       `json:"locations,omitempty"`
	Stock     []availability.StockSummary `json:"stock,omitempty"`
	Job       *JobSummary                 `json:"job,omitempty"`
}

// JobSummary is a job's header. Start and End are in the form prewarm and
// fetch-availability accept, and LocationID is the key an Override uses.
type JobSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	LocationID int64  `json:"location_id"`
	State      int    `json:"state"`
	Status     int    `json:"status"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
}

func summarize(j jobs.Job) *JobSummary {
	js := &JobSummary{
		ID:         j.ID,
		Name:       j.DisplayName(),
		LocationID: j.LocationID,
		State:      j.State,
		Status:     j.Status,
	}
	if j.HasDates() {
		js.Start = j.StartsAt.UTC().Format(time.RFC3339)
		js.End = j.EndsAt.UTC().Format(time.RFC3339)
	}
	return js
}

type Resolver interface {
	Held(ctx context.Context, itemID int64, locations []int64) ([]availability.StockSummary, error)
	Availability(ctx context.Context, q availability.Query) ([]availability.Report, error)
}

type Cache interface {
	Prewarm(ctx context.Context, key cache.Key) error
	ClearAll()
}

// JobSource looks up a single job. It backs fetch-job.
type JobSource interface {
	Job(ctx context.Context, jobID int64) (jobs.Job, error)
}

type Options struct {
	Timeout time.Duration
	// Jobs is optional; without it fetch-job is rejected.
	Jobs    JobSource
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Router struct {
	settings settings.Source
	resolver Resolver
	cache    Cache
	jobs     JobSource
	timeout  time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	fingerprint string
	seen        bool
}

func New(src settings.Source, resolver Resolver, c Cache, opts Options) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Router{
		settings: src,
		resolver: resolver,
		cache:    c,
		jobs:     opts.Jobs,
		timeout:  opts.Timeout,
		log:      opts.Logger.With(zap.String("component", "router")),
		metrics:  opts.Metrics,
	}
}

// Submit handles req in the background. The returned channel yields exactly
// one Response and is then closed.
func (r *Router) Submit(ctx context.Context, req Request) <-chan Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	out := make(chan Response, 1)
	go func() {
		defer close(out)
		out <- r.handle(ctx, req)
	}()
	return out
}

// Do is Submit for callers that want to block.
func (r *Router) Do(ctx context.Context, req Request) Response {
	return <-r.Submit(ctx, req)
}

func (r *Router) handle(ctx context.Context, req Request) Response {
	began := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp := Response{ID: req.ID}
	err := r.serve(ctx, req, &resp)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", internaltypes.ErrTimeout, err)
	}
	if err != nil {
		resp.Error = internaltypes.Code(err)
		resp.Message = err.Error()
		resp.Retryable = internaltypes.Retryable(err)
		resp.Locations, resp.Stock, resp.Job = nil, nil, nil
	} else {
		resp.Success = true
	}

	r.metrics.RouterRequest(string(req.Capability), resp.Error)
	fields := []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("capability", string(req.Capability)),
		zap.Duration("took", time.Since(began)),
	}
	switch {
	case resp.Error == internaltypes.CodeCanceled:
		r.log.Info("request abandoned by caller", fields...)
	case err != nil:
		r.log.Warn("request failed", append(fields, zap.String("code", resp.Error), zap.Error(err))...)
	default:
		r.log.Debug("request served", fields...)
	}
	return resp
}

func (r *Router) serve(ctx context.Context, req Request, resp *Response) error {
	switch req.Capability {
	case ClearCache:
		r.cache.ClearAll()
		return nil
	case FetchStock, FetchAvailability, Prewarm, FetchJob:
	default:
		return fmt.Errorf("%w: unknown capability %q", internaltypes.ErrBadRequest, req.Capability)
	}

	s, err := r.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !s.Configured() {
		return internaltypes.ErrNotConfigured
	}
	r.observe(s)

	switch req.Capability {
	case Prewarm:
		key, err := req.key()
		if err != nil {
			return err
		}
		return r.cache.Prewarm(ctx, key)
	case FetchJob:
		if r.jobs == nil {
			return fmt.Errorf("%w: job lookup is not available", internaltypes.ErrBadRequest)
		}
		if req.JobID <= 0 {
			return fmt.Errorf("%w: job_id required", internaltypes.ErrBadRequest)
		}
		j, err := r.jobs.Job(ctx, req.JobID)
		if err != nil {
			return err
		}
		resp.Job = summarize(j)
		return nil
	}

	if len(s.Locations) == 0 {
		return internaltypes.ErrNoLocationsEnabled
	}
	if req.ItemID <= 0 {
		return fmt.Errorf("%w: item_id required", internaltypes.ErrBadRequest)
	}

	if req.Capability == FetchStock {
		stock, err := r.resolver.Held(ctx, req.ItemID, s.Locations)
		if err != nil {
			return err
		}
		resp.Stock = stock
		return nil
	}

	key, err := req.key()
	if err != nil {
		return err
	}
	reports, err := r.resolver.Availability(ctx, availability.Query{
		ItemID:    req.ItemID,
		Key:       key,
		Locations: s.Locations,
		Override:  req.Override,
	})
	if err != nil {
		return err
	}
	resp.Locations = reports
	return nil
}

// observe clears the cache when the account or location set changed since
// the previous request.
func (r *Router) observe(s settings.Settings) {
	fp := s.Fingerprint()

	r.mu.Lock()
	changed := r.seen && fp != r.fingerprint
	r.fingerprint, r.seen = fp, true
	r.mu.Unlock()

	if changed {
		r.log.Info("settings changed, clearing cache")
		r.cache.ClearAll()
	}
}
