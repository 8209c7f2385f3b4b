// Package rms is the client for the remote rental-management REST API. All
// calls go through a Fetcher (the process-wide gateway) and every loosely
// typed record is normalized here before it reaches the rest of the module.
package rms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/rms-availability/internal/availability"
	"github.com/example/rms-availability/internal/internaltypes"
	"github.com/example/rms-availability/internal/jobs"
)

const (
	DefaultBaseURL  = "https://api.current-rms.com/api/v1"
	DefaultMaxPages = 10

	listPageSize  = 100
	stockPageSize = 200
)

// Fetcher performs a paced GET and returns the JSON body.
type Fetcher interface {
	Enqueue(ctx context.Context, url string) (json.RawMessage, error)
}

type Client struct {
	f        Fetcher
	base     string
	maxPages int
	log      *zap.Logger
}

func New(f Fetcher, baseURL string, maxPages int, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		f:        f,
		base:     strings.TrimRight(baseURL, "/"),
		maxPages: maxPages,
		log:      log.With(zap.String("component", "rms")),
	}
}

// StockLevels returns every stock level row for an item across all stores.
// Pages are read until a short page or the page cap.
func (c *Client) StockLevels(ctx context.Context, itemID int64) ([]availability.StockLevel, error) {
	var out []availability.StockLevel
	for page := 1; page <= c.maxPages; page++ {
		var res stockLevelsResponse
		err := c.get(ctx, "stock_levels", map[string]string{
			"q[item_id_eq]": strconv.FormatInt(itemID, 10),
			"per_page":      strconv.Itoa(stockPageSize),
			"page":          strconv.Itoa(page),
		}, &res)
		if err != nil {
			return nil, fmt.Errorf("stock levels for item %d page %d: %w", itemID, page, err)
		}
		for _, sl := range res.StockLevels {
			out = append(out, availability.StockLevel{
				LocationID: int64(sl.StoreID),
				Quantity:   sl.QuantityHeld.Float(),
				Category:   int(sl.StockCategory),
			})
		}
		if len(res.StockLevels) < stockPageSize {
			return out, nil
		}
	}
	c.log.Warn("stock levels truncated at page cap",
		zap.Int64("item_id", itemID),
		zap.Int("pages", c.maxPages),
		zap.Int("rows", len(out)),
	)
	return out, nil
}

// OverlappingJobs lists every job the remote system reports as touching
// [start, end]. Pages are read until a short page or the page cap.
func (c *Client) OverlappingJobs(ctx context.Context, start, end string) ([]jobs.Job, error) {
	var out []jobs.Job
	for page := 1; page <= c.maxPages; page++ {
		var res opportunitiesResponse
		err := c.get(ctx, "opportunities", map[string]string{
			"q[starts_at_lteq]": end,
			"q[ends_at_gteq]":   start,
			"filtermode":        "all",
			"per_page":          strconv.Itoa(listPageSize),
			"page":              strconv.Itoa(page),
		}, &res)
		if err != nil {
			return nil, fmt.Errorf("list jobs page %d: %w", page, err)
		}
		for _, o := range res.Opportunities {
			j := o.job()
			if err := j.Validate(); err != nil {
				c.log.Warn("dropping malformed job row", zap.Int64("job_id", j.ID), zap.Error(err))
				continue
			}
			out = append(out, j)
		}
		if len(res.Opportunities) < listPageSize {
			return out, nil
		}
	}
	c.log.Warn("job listing truncated at page cap", zap.Int("pages", c.maxPages), zap.Int("jobs", len(out)))
	return out, nil
}

// Job fetches a single job's header.
func (c *Client) Job(ctx context.Context, jobID int64) (jobs.Job, error) {
	var res opportunityResponse
	if err := c.get(ctx, "opportunities/"+strconv.FormatInt(jobID, 10), nil, &res); err != nil {
		return jobs.Job{}, fmt.Errorf("job %d: %w", jobID, err)
	}
	j := res.Opportunity.job()
	if err := j.Validate(); err != nil {
		return jobs.Job{}, &internaltypes.TransportError{Err: err}
	}
	return j, nil
}

// JobItems fetches one job with its line items.
func (c *Client) JobItems(ctx context.Context, jobID int64) ([]jobs.LineItem, error) {
	var res opportunityResponse
	err := c.get(ctx, "opportunities/"+strconv.FormatInt(jobID, 10), map[string]string{
		"include[]": "opportunity_items",
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("job %d items: %w", jobID, err)
	}
	out := make([]jobs.LineItem, 0, len(res.Opportunity.Items))
	for _, it := range res.Opportunity.Items {
		out = append(out, it.lineItem())
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	u := c.base + "/" + path
	if len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}
	raw, err := c.f.Enqueue(ctx, u)
	if err != nil {
		return err
	}
	return decode(raw, out)
}
