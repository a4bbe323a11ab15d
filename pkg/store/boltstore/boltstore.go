// Package boltstore stores model records in a bbolt file, one bucket per
// model name.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
	"github.com/hed1ad/bdistml/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is a bbolt backed store.Store.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the bbolt file at path.
func Open(ctx context.Context, path string) (*Store, error) {
	logging.FromContext(ctx).Debugf("opening bolt store %s", path)

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close bolt store: %w", err)
	}
	return nil
}

// Save replaces the bucket for name with rec in one transaction.
func (s *Store) Save(ctx context.Context, name string, rec *balanced.Record) error {
	if err := store.CheckSave(name, rec); err != nil {
		return err
	}

	dataset, err := store.EncodeDataset(rec.BalancedDistribution)
	if err != nil {
		return err
	}
	start, err := rec.Metadata.Start.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode start time: %w", err)
	}
	end, err := rec.Metadata.End.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode end time: %w", err)
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) != nil {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return fmt.Errorf("delete bucket: %w", err)
			}
		}
		b, err := tx.CreateBucket([]byte(name))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}

		values := []struct {
			key   string
			value []byte
		}{
			{store.AttrInitialNormalFeatures, encodeInt(rec.InitialNormalFeatures)},
			{store.AttrThresholdLearning, encodeFloat(rec.ThresholdLearning)},
			{store.AttrThresholdClassification, encodeFloat(rec.ThresholdClassification)},
			{store.AttrPruningParameter, encodeFloat(rec.PruningParameter)},
			{store.DatasetBalancedDistribution, dataset},
			{store.MetaRunID, []byte(rec.Metadata.RunID)},
			{store.MetaFeaturesUsed, encodeInt(rec.Metadata.FeaturesUsed)},
			{store.MetaStart, start},
			{store.MetaEnd, end},
		}
		for _, v := range values {
			if err := b.Put([]byte(v.key), v.value); err != nil {
				return fmt.Errorf("put %s: %w", v.key, err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("save model %q: %w", name, err)
	}

	logging.FromContext(ctx).Infof("saved model %q with %d entries", name, len(rec.BalancedDistribution))
	return nil
}

// Load reads the bucket for name.
func (s *Store) Load(ctx context.Context, name string) (*balanced.Record, error) {
	rec := &balanced.Record{}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return store.ErrNotFound
		}

		var err error
		if rec.InitialNormalFeatures, err = getInt(b, store.AttrInitialNormalFeatures); err != nil {
			return err
		}
		if rec.ThresholdLearning, err = getFloat(b, store.AttrThresholdLearning); err != nil {
			return err
		}
		if rec.ThresholdClassification, err = getFloat(b, store.AttrThresholdClassification); err != nil {
			return err
		}
		if rec.PruningParameter, err = getFloat(b, store.AttrPruningParameter); err != nil {
			return err
		}

		// Bytes returned by Get are only valid for the life of the
		// transaction; DecodeDataset copies them.
		data := b.Get([]byte(store.DatasetBalancedDistribution))
		if data == nil {
			return fmt.Errorf("missing dataset %s", store.DatasetBalancedDistribution)
		}
		if rec.BalancedDistribution, err = store.DecodeDataset(data); err != nil {
			return err
		}

		rec.Metadata.RunID = string(b.Get([]byte(store.MetaRunID)))
		if v := b.Get([]byte(store.MetaFeaturesUsed)); v != nil {
			rec.Metadata.FeaturesUsed = int(int64(binary.BigEndian.Uint64(v)))
		}
		if v := b.Get([]byte(store.MetaStart)); v != nil {
			if err := rec.Metadata.Start.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("decode start time: %w", err)
			}
		}
		if v := b.Get([]byte(store.MetaEnd)); v != nil {
			if err := rec.Metadata.End.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("decode end time: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", name, err)
	}

	logging.FromContext(ctx).Debugf("read model %q from bolt store", name)
	return rec, nil
}

// Exists reports whether a bucket exists for name.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found, err
}

// Delete removes the bucket for name.
func (s *Store) Delete(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(name))
	})
}

func encodeInt(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(int64(v)))
	return b
}

func encodeFloat(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func getInt(b *bolt.Bucket, key string) (int, error) {
	v := b.Get([]byte(key))
	if len(v) != 8 {
		return 0, fmt.Errorf("missing or malformed attribute %s", key)
	}
	return int(int64(binary.BigEndian.Uint64(v))), nil
}

func getFloat(b *bolt.Bucket, key string) (float64, error) {
	v := b.Get([]byte(key))
	if len(v) != 8 {
		return 0, fmt.Errorf("missing or malformed attribute %s", key)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(v)), nil
}
