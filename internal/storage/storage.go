// Package storage persists resources and relations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Storage is the persistence contract shared by all engines.
//
// UpsertBatch is atomic: either every resource of the batch is visible afterwards or none is.
// An upsert fully replaces the stored row and metadata of the same identity.
type Storage interface {
	Prepare(ctx context.Context) error
	UpsertBatch(ctx context.Context, resources []resource.Resource) error
	ReplaceRelations(ctx context.Context, relations []resource.Relation) error
	Query(ctx context.Context, filter Filter, page Page) (QueryResult, error)
	Resources(ctx context.Context) ([]resource.Resource, error)
	Relations(ctx context.Context) ([]resource.Relation, error)
	Counts(ctx context.Context) ([]KindCount, error)
	Close() error
}

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Kind      string
	MetaKey   string
	MetaValue string
}

// Page selects a window of an ordered result. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

func (p Page) offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// QueryResult is one page of resources ordered by identity.
type QueryResult struct {
	Resources []resource.Resource
	HasMore   bool
}

// KindCount is the number of stored resources of one kind from one source.
type KindCount struct {
	Source string `db:"source"`
	Kind   string `db:"kind"`
	Count  int64  `db:"count"`
}

func sortCounts(counts []KindCount) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Source != counts[j].Source {
			return counts[i].Source < counts[j].Source
		}
		return counts[i].Kind < counts[j].Kind
	})
}

// StorageError wraps a failed storage operation. A failed commit leaves no partial state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrInvalidPage is returned for a page with a non-positive size.
var ErrInvalidPage = errors.New("page size must be positive")

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

const connectRetries = 5

// Open builds the configured default engine, connecting with bounded exponential retries.
// The returned store is not prepared.
func Open(ctx context.Context, cfg config.Storage, logger zerolog.Logger) (Storage, error) {
	var (
		st  Storage
		err error
	)

	operation := func() error {
		switch cfg.DefaultEngine {
		case config.EnginePostgreSQL:
			st, err = OpenPostgres(ctx, cfg.Engines.PostgreSQL.DSN())
		case config.EngineSQLite:
			st, err = OpenSQLite(ctx, cfg.Engines.SQLite.Path)
		case config.EngineBolt:
			st, err = OpenBolt(cfg.Engines.Bolt.Path)
		default:
			return backoff.Permanent(fmt.Errorf("unknown storage engine %q", cfg.DefaultEngine))
		}
		return err
	}

	retryer := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries),
		ctx,
	)
	notify := func(err error, d time.Duration) {
		logger.Warn().Err(err).Str("engine", cfg.DefaultEngine).Dur("retry_in", d).Msg("storage connect failed")
	}

	if err := backoff.RetryNotify(operation, retryer, notify); err != nil {
		return nil, wrap("open", err)
	}
	return st, nil
}
