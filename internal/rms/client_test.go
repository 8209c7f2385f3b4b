package rms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rms-availability/internal/availability"
	"github.com/example/rms-availability/internal/internaltypes"
	"github.com/example/rms-availability/internal/jobs"
)

// fakeFetcher answers by path and records every URL it was asked for.
type fakeFetcher struct {
	mu     sync.Mutex
	urls   []*url.URL
	handle func(u *url.URL) (string, error)
}

func (f *fakeFetcher) Enqueue(_ context.Context, raw string) (json.RawMessage, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.urls = append(f.urls, u)
	f.mu.Unlock()
	body, err := f.handle(u)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func TestStockLevels(t *testing.T) {
	f := &fakeFetcher{handle: func(u *url.URL) (string, error) {
		assert.Equal(t, "/api/v1/stock_levels", u.Path)
		assert.Equal(t, "55", u.Query().Get("q[item_id_eq]"))
		assert.Equal(t, "200", u.Query().Get("per_page"))
		assert.Equal(t, "1", u.Query().Get("page"))
		return `{"stock_levels":[
			{"store_id":7,"quantity_held":"10.0","stock_category":20},
			{"store_id":"8","quantity_held":3,"stock_category":"10"},
			{"store_id":9,"quantity_held":null,"stock_category":20}
		]}`, nil
	}}
	c := New(f, "https://rms.test/api/v1/", 0, nil)

	levels, err := c.StockLevels(context.Background(), 55)
	require.NoError(t, err)
	assert.Equal(t, []availability.StockLevel{
		{LocationID: 7, Quantity: 10, Category: 20},
		{LocationID: 8, Quantity: 3, Category: 10},
		{LocationID: 9, Quantity: 0, Category: 20},
	}, levels)
}

func TestStockLevelsPaginates(t *testing.T) {
	f := &fakeFetcher{handle: func(u *url.URL) (string, error) {
		n := 200
		if u.Query().Get("page") == "2" {
			n = 1
		}
		rows := make([]string, 0, n)
		for i := 0; i < n; i++ {
			rows = append(rows, `{"store_id":7,"quantity_held":"1","stock_category":20}`)
		}
		return `{"stock_levels":[` + strings.Join(rows, ",") + `]}`, nil
	}}
	levels, err := New(f, "", 0, nil).StockLevels(context.Background(), 55)
	require.NoError(t, err)
	assert.Len(t, levels, 201)
	assert.Len(t, f.urls, 2)
}

func TestStockLevelsStopsAtPageCap(t *testing.T) {
	full := `{"stock_levels":[` + strings.TrimSuffix(strings.Repeat(`{"store_id":7,"quantity_held":1},`, 200), ",") + `]}`
	f := &fakeFetcher{handle: func(*url.URL) (string, error) { return full, nil }}
	levels, err := New(f, "", 2, nil).StockLevels(context.Background(), 55)
	require.NoError(t, err)
	assert.Len(t, levels, 400)
	assert.Len(t, f.urls, 2)
}

func TestOverlappingJobsPaginates(t *testing.T) {
	f := &fakeFetcher{handle: func(u *url.URL) (string, error) {
		q := u.Query()
		assert.Equal(t, "2024-06-03", q.Get("q[starts_at_lteq]"))
		assert.Equal(t, "2024-06-01", q.Get("q[ends_at_gteq]"))
		assert.Equal(t, "all", q.Get("filtermode"))
		n := 100
		if q.Get("page") == "2" {
			n = 3
		}
		ops := make([]string, 0, n)
		for i := 0; i < n; i++ {
			ops = append(ops, fmt.Sprintf(`{"id":%d,"subject":"Job %d","store_id":7,"state":"4","status":0,
				"starts_at":"2024-06-02T08:00:00.000Z","ends_at":"2024-06-04T18:00:00.000Z"}`, i+1, i+1))
		}
		return `{"opportunities":[` + strings.Join(ops, ",") + `]}`, nil
	}}
	c := New(f, "https://rms.test/api/v1", 0, nil)

	list, err := c.OverlappingJobs(context.Background(), "2024-06-01", "2024-06-03")
	require.NoError(t, err)
	assert.Len(t, list, 103)
	assert.Len(t, f.urls, 2)
	assert.Equal(t, 4, list[0].State)
	assert.Equal(t, int64(7), list[0].LocationID)
	assert.True(t, list[0].HasDates())
}

func TestOverlappingJobsStopsAtPageCap(t *testing.T) {
	full := `{"opportunities":[` + strings.TrimSuffix(strings.Repeat(`{"id":1},`, 100), ",") + `]}`
	f := &fakeFetcher{handle: func(*url.URL) (string, error) { return full, nil }}
	c := New(f, "", 3, nil)

	list, err := c.OverlappingJobs(context.Background(), "2024-06-01", "2024-06-03")
	require.NoError(t, err)
	assert.Len(t, list, 300)
	assert.Len(t, f.urls, 3)
	assert.Equal(t, "api.current-rms.com", f.urls[0].Host)
}

func TestOverlappingJobsFailsOnListingError(t *testing.T) {
	f := &fakeFetcher{handle: func(*url.URL) (string, error) { return "", internaltypes.ErrRateLimited }}
	_, err := New(f, "", 0, nil).OverlappingJobs(context.Background(), "2024-06-01", "2024-06-03")
	assert.ErrorIs(t, err, internaltypes.ErrRateLimited)
}

func TestOverlappingJobsDropsMalformedRows(t *testing.T) {
	f := &fakeFetcher{handle: func(*url.URL) (string, error) {
		return `{"opportunities":[
			{"id":null,"state":4,"starts_at":"2024-06-01","ends_at":"2024-06-02"},
			{"id":"","state":4,"starts_at":"2024-06-01","ends_at":"2024-06-02"},
			{"id":8,"state":4,"starts_at":"2024-06-03","ends_at":"2024-06-01"},
			{"id":9,"state":4,"starts_at":"2024-06-01","ends_at":"2024-06-02"}
		]}`, nil
	}}
	list, err := New(f, "", 0, nil).OverlappingJobs(context.Background(), "2024-06-01", "2024-06-03")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(9), list[0].ID)
}

func TestJob(t *testing.T) {
	f := &fakeFetcher{handle: func(u *url.URL) (string, error) {
		assert.Equal(t, "/api/v1/opportunities/42", u.Path)
		assert.Empty(t, u.RawQuery)
		return `{"opportunity":{"id":42,"subject":"Festival","store_id":"3","state":3,"status":60,
			"starts_at":"2024-06-01T08:00:00Z","ends_at":"2024-06-05T18:00:00Z"}}`, nil
	}}
	j, err := New(f, "", 0, nil).Job(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), j.ID)
	assert.Equal(t, "Festival", j.Name)
	assert.Equal(t, int64(3), j.LocationID)
	assert.Equal(t, jobs.FirmReserved, jobs.DefaultRules().Classify(j))
	assert.True(t, j.HasDates())
}

func TestJobWithoutIDIsTransportError(t *testing.T) {
	f := &fakeFetcher{handle: func(*url.URL) (string, error) { return `{"opportunity":{}}`, nil }}
	_, err := New(f, "", 0, nil).Job(context.Background(), 42)
	assert.Equal(t, internaltypes.CodeTransportError, internaltypes.Code(err))
}

func TestJobFallsBackToChargeDates(t *testing.T) {
	f := &fakeFetcher{handle: func(*url.URL) (string, error) {
		return `{"opportunities":[{"id":"5","subject":null,"state":2,"starts_at":null,
			"charge_starts_at":"2024-06-01","charge_ends_at":"2024-06-02"}]}`, nil
	}}
	list, err := New(f, "", 0, nil).OverlappingJobs(context.Background(), "2024-06-01", "2024-06-03")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(5), list[0].ID)
	assert.Equal(t, "Job #5", list[0].DisplayName())
	assert.True(t, list[0].HasDates())
}

func TestJobItems(t *testing.T) {
	f := &fakeFetcher{handle: func(u *url.URL) (string, error) {
		assert.Equal(t, "/api/v1/opportunities/42", u.Path)
		assert.Equal(t, "opportunity_items", u.Query().Get("include[]"))
		return `{"opportunity":{"id":42,"opportunity_items":[
			{"item_id":55,"quantity":"4.0"},
			{"item_id":null,"quantity":"1"},
			{"item_id":56,"quantity":2,"starts_at":"2024-06-02T00:00:00Z","ends_at":"2024-06-03T00:00:00Z"},
			{"item_id":57,"quantity":1,"starts_at":"2024-06-02T00:00:00Z","ends_at":null}
		]}}`, nil
	}}
	items, err := New(f, "", 0, nil).JobItems(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, jobs.LineItem{ItemID: 55, Quantity: 4}, items[0])
	assert.Zero(t, items[1].ItemID)
	assert.True(t, items[2].HasDates())
	assert.False(t, items[3].HasDates())
	assert.True(t, items[3].StartsAt.IsZero())
}

func TestMalformedBodyIsTransportError(t *testing.T) {
	f := &fakeFetcher{handle: func(*url.URL) (string, error) { return `{"stock_levels":"nope"}`, nil }}
	_, err := New(f, "", 0, nil).StockLevels(context.Background(), 1)
	assert.Equal(t, internaltypes.CodeTransportError, internaltypes.Code(err))
}

func TestFlexInt(t *testing.T) {
	cases := map[string]int64{`12`: 12, `"12"`: 12, `12.0`: 12, `""`: 0, `null`: 0, `"3.0"`: 3}
	for in, want := range cases {
		var f flexInt
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		assert.Equal(t, want, int64(f), in)
	}
	var f flexInt
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &f))
}
