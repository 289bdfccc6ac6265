package query

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/model"
)

// DefaultBatchSize is the number of records per emitted batch.
const DefaultBatchSize = 256

// Finder is the storage lookup the engine evaluates leaves against.
// Implementations must be safe for concurrent use.
type Finder interface {
	// Find returns records of collection ("" = all collections) tagged with usecase.
	Find(ctx context.Context, collection, usecase string) ([]model.Record, error)
}

// EmitFunc receives results in order. last is true exactly once, on the
// final call; an empty result produces a single call with no records.
type EmitFunc func(batch []model.Record, last bool) error

// Engine evaluates query trees.
type Engine struct {
	store     Finder
	batchSize int
	log       *zap.Logger
}

// NewEngine constructs an engine. batchSize <= 0 selects DefaultBatchSize.
func NewEngine(store Finder, batchSize int, log *zap.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, batchSize: batchSize, log: log}
}

// Collect evaluates q and returns the matching records, each ID once.
func (e *Engine) Collect(ctx context.Context, q Query) ([]model.Record, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}
	set, err := e.eval(ctx, q)
	if err != nil {
		return nil, err
	}
	return set.records(), nil
}

// Evaluate evaluates q and streams the result through emit in batches.
func (e *Engine) Evaluate(ctx context.Context, q Query, emit EmitFunc) error {
	records, err := e.Collect(ctx, q)
	if err != nil {
		return err
	}
	e.log.Debug("query evaluated", zap.Stringer("query", q), zap.Int("records", len(records)))

	for start := 0; ; start += e.batchSize {
		end := min(start+e.batchSize, len(records))
		last := end == len(records)
		if err := emit(records[start:end], last); err != nil {
			return fmt.Errorf("query: emit: %w", err)
		}
		if last {
			return nil
		}
	}
}

func (e *Engine) eval(ctx context.Context, q Query) (*resultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch q := q.(type) {
	case Single:
		recs, err := e.store.Find(ctx, q.Collection, q.Usecase)
		if err != nil {
			return nil, fmt.Errorf("query: find %s: %w", q, err)
		}
		set := newResultSet(len(recs))
		for _, r := range recs {
			set.add(r)
		}
		return set, nil

	case Compound:
		// An empty compound matches nothing, for And as well as Or.
		if len(q.Queries) == 0 {
			return newResultSet(0), nil
		}
		switch q.Type {
		case And:
			acc, err := e.eval(ctx, q.Queries[0])
			if err != nil {
				return nil, err
			}
			for _, child := range q.Queries[1:] {
				if acc.len() == 0 {
					break
				}
				next, err := e.eval(ctx, child)
				if err != nil {
					return nil, err
				}
				acc = acc.intersect(next)
			}
			return acc, nil
		case Or:
			acc := newResultSet(0)
			for _, child := range q.Queries {
				next, err := e.eval(ctx, child)
				if err != nil {
					return nil, err
				}
				acc.union(next)
			}
			return acc, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, q)
}
