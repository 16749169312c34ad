package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Bucket names in bbolt
var (
	bucketResources = []byte("resources")
	bucketRelations = []byte("relations")
)

// BoltStore implements Storage on an embedded bbolt file with an in-memory btree index
// ordered by identity.
type BoltStore struct {
	mu sync.RWMutex

	// In-memory index for ordered queries
	index *btree.BTreeG[resource.Resource]

	// On-disk storage
	db *bbolt.DB
}

func lessResource(a, b resource.Resource) bool {
	return a.Identity().Less(b.Identity())
}

// OpenBolt opens (creating if needed) a bbolt database file.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	return &BoltStore{
		index: btree.NewG[resource.Resource](32, lessResource),
		db:    db,
	}, nil
}

// Prepare creates buckets and rebuilds the index from disk.
func (s *BoltStore) Prepare(_ context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketResources, bucketRelations} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("prepare", err)
	}

	return wrap("prepare", s.rebuildIndex())
}

func (s *BoltStore) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := btree.NewG[resource.Resource](32, lessResource)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(_, v []byte) error {
			var r resource.Resource
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			index.ReplaceOrInsert(r)
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.index = index
	return nil
}

// UpsertBatch writes all resources in one bbolt transaction, then updates the index.
func (s *BoltStore) UpsertBatch(_ context.Context, resources []resource.Resource) error {
	if len(resources) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResources)
		for _, r := range resources {
			if err := checkIdentity(r); err != nil {
				return err
			}
			value, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(r.Key()), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("upsert", err)
	}

	for _, r := range resources {
		s.index.ReplaceOrInsert(r)
	}
	return nil
}

// checkIdentity enforces the same non-empty key rule the SQL schema enforces with CHECK constraints.
func checkIdentity(r resource.Resource) error {
	if r.Kind == "" || r.ExternalID == "" || r.ScannerSource == "" {
		return fmt.Errorf("resource %s has an incomplete identity", r.Identity())
	}
	return nil
}

// ReplaceRelations swaps the relation bucket contents.
func (s *BoltStore) ReplaceRelations(_ context.Context, relations []resource.Relation) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketRelations); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket(bucketRelations)
		if err != nil {
			return err
		}
		for _, rel := range relations {
			value, err := json.Marshal(rel)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(rel.Key()), value); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("replace relations", err)
}

// Query walks the index in identity order.
func (s *BoltStore) Query(_ context.Context, filter Filter, page Page) (QueryResult, error) {
	if page.Size <= 0 {
		return QueryResult{}, wrap("query", ErrInvalidPage)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := page.offset()
	var res QueryResult
	s.index.Ascend(func(r resource.Resource) bool {
		if !matches(r, filter) {
			return true
		}
		if skip > 0 {
			skip--
			return true
		}
		if len(res.Resources) == page.Size {
			res.HasMore = true
			return false
		}
		res.Resources = append(res.Resources, r)
		return true
	})
	return res, nil
}

func matches(r resource.Resource, f Filter) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.MetaKey != "" {
		v, ok := r.MetaData[f.MetaKey]
		if !ok || v != f.MetaValue {
			return false
		}
	}
	return true
}

// Resources returns every stored resource ordered by identity.
func (s *BoltStore) Resources(_ context.Context) ([]resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]resource.Resource, 0, s.index.Len())
	s.index.Ascend(func(r resource.Resource) bool {
		out = append(out, r)
		return true
	})
	return out, nil
}

// Relations returns the stored relation set in key order.
func (s *BoltStore) Relations(_ context.Context) ([]resource.Relation, error) {
	var out []resource.Relation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRelations).ForEach(func(_, v []byte) error {
			var rel resource.Relation
			if err := json.Unmarshal(v, &rel); err != nil {
				return err
			}
			out = append(out, rel)
			return nil
		})
	})
	return out, wrap("relations", err)
}

// Counts returns stored resource counts per source and kind, ordered by source then kind.
func (s *BoltStore) Counts(_ context.Context) ([]KindCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[[2]string]int64)
	s.index.Ascend(func(r resource.Resource) bool {
		counts[[2]string{r.ScannerSource, r.Kind}]++
		return true
	})

	out := make([]KindCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, KindCount{Source: k[0], Kind: k[1], Count: n})
	}
	sortCounts(out)
	return out, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
