package availability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/rms-availability/internal/cache"
)

type StockSource interface {
	StockLevels(ctx context.Context, itemID int64) ([]StockLevel, error)
}

type CommitmentSource interface {
	GetCommitments(ctx context.Context, key cache.Key) (cache.Snapshot, error)
}

// Query is one fetch-availability request.
type Query struct {
	ItemID    int64
	Key       cache.Key
	Locations []int64
	Override  *Override
}

// Resolver performs the lookups behind Resolve.
type Resolver struct {
	stock       StockSource
	commitments CommitmentSource
	excluded    []int
	log         *zap.Logger
}

func NewResolver(stock StockSource, commitments CommitmentSource, excluded []int, log *zap.Logger) *Resolver {
	if excluded == nil {
		excluded = DefaultExcludedCategories
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		stock:       stock,
		commitments: commitments,
		excluded:    excluded,
		log:         log.With(zap.String("component", "resolver")),
	}
}

// Held returns held stock for each enabled location, in location order.
func (r *Resolver) Held(ctx context.Context, itemID int64, locations []int64) ([]StockSummary, error) {
	levels, err := r.stock.StockLevels(ctx, itemID)
	if err != nil {
		return nil, err
	}
	held := HeldByLocation(levels, locations, r.excluded)
	out := make([]StockSummary, 0, len(locations))
	for _, id := range locations {
		out = append(out, StockSummary{LocationID: id, Held: held[id]})
	}
	return out, nil
}

// Availability runs the held-stock lookup and the commitment lookup in
// parallel and merges them.
func (r *Resolver) Availability(ctx context.Context, q Query) ([]Report, error) {
	var (
		levels []StockLevel
		snap   cache.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		levels, err = r.stock.StockLevels(gctx, q.ItemID)
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = r.commitments.GetCommitments(gctx, q.Key)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("availability for item %d: %w", q.ItemID, err)
	}

	held := HeldByLocation(levels, q.Locations, r.excluded)
	reports := Resolve(q.ItemID, held, snap, q.Override)
	r.log.Debug("resolved availability",
		zap.Int64("item_id", q.ItemID),
		zap.Int("locations", len(reports)),
		zap.Bool("override", q.Override != nil),
	)
	return Ordered(reports, q.Locations), nil
}
