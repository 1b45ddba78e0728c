// Package bolt is an embedded single-file store for validators that run
// without PostgreSQL.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vietddude/ethbridge/internal/core/codec"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

var (
	sessionsBucket  = []byte("sessions")
	countersBucket  = []byte("counters")
	offencesBucket  = []byte("offences")
	offendersBucket = []byte("offenders")
	processedBucket = []byte("processed")
	rangesBucket    = []byte("ranges")

	allBuckets = [][]byte{sessionsBucket, countersBucket, offencesBucket, offendersBucket, processedBucket, rangesBucket}
)

// DB is a bolt database holding every repository in its own bucket.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database file.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &DB{db: db}, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.db.Path()
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// NewStore returns every repository backed by d.
func NewStore(d *DB) *storage.Store {
	return &storage.Store{
		Sessions:  &SessionRepo{db: d},
		Counters:  &CounterRepo{db: d},
		Offences:  &OffenceRepo{db: d},
		Processed: &ProcessedRepo{db: d},
		Ranges:    &RangeRepo{db: d},
		Close:     d.Close,
	}
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func joinKey(parts ...[]byte) []byte {
	return bytes.Join(parts, []byte{0})
}

func actionKey(kind string, id domain.ActionID) []byte {
	return joinKey([]byte(kind), []byte(id.Subject), u64(id.IngressCounter))
}

// -----------------------------------------------------------------------------
// Session Repository
// -----------------------------------------------------------------------------

type SessionRepo struct {
	db *DB
}

func (r *SessionRepo) Save(ctx context.Context, rec *storage.SessionRecord) error {
	v, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return r.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put(actionKey(string(rec.Kind), rec.Session.ActionID), v)
	})
}

func (r *SessionRepo) Get(ctx context.Context, kind domain.ActionKind, id domain.ActionID) (*storage.SessionRecord, error) {
	var rec storage.SessionRecord
	err := r.db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get(actionKey(string(kind), id))
		if data == nil {
			return storage.ErrNotFound
		}
		return codec.Unmarshal(data, &rec)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("bolt db read failed, %w", err)
	}
	return &rec, nil
}

func (r *SessionRepo) Delete(ctx context.Context, kind domain.ActionKind, id domain.ActionID) error {
	return r.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete(actionKey(string(kind), id))
	})
}

func (r *SessionRepo) ListOpen(ctx context.Context, kind domain.ActionKind) ([]*storage.SessionRecord, error) {
	var out []*storage.SessionRecord
	prefix := append([]byte(kind), 0)
	err := r.db.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(sessionsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec storage.SessionRecord
			if err := codec.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Session.State == domain.SessionOpen {
				out = append(out, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt db scan failed, %w", err)
	}
	return out, nil
}

func (r *SessionRepo) DeleteConcludedBefore(ctx context.Context, block uint64) (int, error) {
	var n int
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec storage.SessionRecord
			if err := codec.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Session.State != domain.SessionOpen && rec.Session.CreatedAt < block {
				stale = append(stale, bytes.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}

// -----------------------------------------------------------------------------
// Counter Repository
// -----------------------------------------------------------------------------

type CounterRepo struct {
	db *DB
}

func (r *CounterRepo) Get(ctx context.Context, scope, key string) (uint64, error) {
	var v uint64
	err := r.db.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(countersBucket).Get(joinKey([]byte(scope), []byte(key))); len(data) == 8 {
			v = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return v, err
}

func (r *CounterRepo) Set(ctx context.Context, scope, key string, value uint64) error {
	return r.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(countersBucket).Put(joinKey([]byte(scope), []byte(key)), u64(value))
	})
}

// -----------------------------------------------------------------------------
// Offence Repository
// -----------------------------------------------------------------------------

type OffenceRepo struct {
	db *DB
}

func offenderKey(kind domain.OffenceKind, id domain.ActionID, offender domain.AccountID) []byte {
	return joinKey(actionKey(string(kind), id), offender.Bytes())
}

func (r *OffenceRepo) Exists(ctx context.Context, kind domain.OffenceKind, id domain.ActionID, offender domain.AccountID) (bool, error) {
	var found bool
	err := r.db.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(offendersBucket).Get(offenderKey(kind, id, offender)) != nil
		return nil
	})
	return found, err
}

// Save stores the report keyed by time so List returns reports oldest first.
func (r *OffenceRepo) Save(ctx context.Context, o *domain.Offence) error {
	v, err := codec.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode offence: %w", err)
	}
	return r.db.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(offencesBucket).Put(joinKey(u64(o.ReportedAt), []byte(o.ID)), v); err != nil {
			return err
		}
		idx := tx.Bucket(offendersBucket)
		for _, a := range o.Offenders {
			if err := idx.Put(offenderKey(o.Kind, o.ActionID, a), []byte(o.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OffenceRepo) List(ctx context.Context) ([]*domain.Offence, error) {
	var out []*domain.Offence
	err := r.db.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(offencesBucket).ForEach(func(_, v []byte) error {
			var o domain.Offence
			if err := codec.Unmarshal(v, &o); err != nil {
				return err
			}
			out = append(out, &o)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt db scan failed, %w", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Processed Event Repository
// -----------------------------------------------------------------------------

type ProcessedRepo struct {
	db *DB
}

func eventKey(id domain.EventID) []byte {
	return append(id.Signature.Bytes(), id.TxHash.Bytes()...)
}

func (r *ProcessedRepo) MarkProcessed(ctx context.Context, id domain.EventID, block uint64) (bool, error) {
	var fresh bool
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(processedBucket)
		k := eventKey(id)
		if b.Get(k) != nil {
			return nil
		}
		fresh = true
		return b.Put(k, u64(block))
	})
	return fresh, err
}

func (r *ProcessedRepo) IsProcessed(ctx context.Context, id domain.EventID) (bool, error) {
	var found bool
	err := r.db.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(processedBucket).Get(eventKey(id)) != nil
		return nil
	})
	return found, err
}

func (r *ProcessedRepo) DeleteBefore(ctx context.Context, block uint64) (int, error) {
	var n int
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(processedBucket)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if len(v) == 8 && binary.BigEndian.Uint64(v) < block {
				stale = append(stale, bytes.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}

// -----------------------------------------------------------------------------
// Range Repository
// -----------------------------------------------------------------------------

type RangeRepo struct {
	db *DB
}

func (r *RangeRepo) GetActive(ctx context.Context, instance domain.InstanceID) (*domain.ActiveRange, error) {
	var ar *domain.ActiveRange
	err := r.db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(rangesBucket).Get(u64(uint64(instance)))
		if data == nil {
			return nil
		}
		ar = new(domain.ActiveRange)
		return codec.Unmarshal(data, ar)
	})
	if err != nil {
		return nil, fmt.Errorf("bolt db read failed, %w", err)
	}
	return ar, nil
}

func (r *RangeRepo) SetActive(ctx context.Context, instance domain.InstanceID, ar domain.ActiveRange) error {
	v, err := codec.Marshal(ar)
	if err != nil {
		return err
	}
	return r.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rangesBucket).Put(u64(uint64(instance)), v)
	})
}

func (r *RangeRepo) Clear(ctx context.Context, instance domain.InstanceID) error {
	return r.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rangesBucket).Delete(u64(uint64(instance)))
	})
}
