package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrPersistence is wrapped by all write-path failures so the pipeline
// can apply its durability policy without inspecting badger internals.
var ErrPersistence = errors.New("persistence failure")

// Key prefixes. Records are stored twice: once under the global prefix
// for urgent/aggregate scans, once under the per-user prefix for history
// queries. Both use an inverted timestamp so ascending iteration yields
// newest-first ordering.
const (
	recordPrefix = "rec/"
	userPrefix   = "user/"
)

// Options configures the gateway.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Used by tests.
	InMemory bool

	// Logger receives read-path degradation warnings. Required.
	Logger *slog.Logger
}

// Gateway is the append-only write path plus best-effort read paths over
// the record store. Safe for concurrent use.
type Gateway struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens the underlying BadgerDB store.
func Open(opts Options) (*Gateway, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, fmt.Errorf("store: Options.Dir is required for on-disk mode")
	}

	if opts.Logger == nil {
		return nil, fmt.Errorf("store: Options.Logger is required")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{logger: opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open badger at %s: %w", opts.Dir, err)
	}

	return &Gateway{db: db, logger: opts.Logger}, nil
}

// Append writes one detection record and returns the store-assigned ID.
// The record's ID and timestamp are set here if missing. There is no
// update or delete path.
func (g *Gateway) Append(ctx context.Context, rec *DetectionRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: nil record", ErrPersistence)
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.UserID == "" {
		rec.UserID = DefaultUserID
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	} else {
		rec.Timestamp = rec.Timestamp.UTC()
	}

	value, err := msgpack.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode record: %v", ErrPersistence, err)
	}

	globalKey := recordKey(rec.Timestamp, rec.ID)
	userKey := userRecordKey(rec.UserID, rec.Timestamp, rec.ID)

	err = g.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(globalKey, value); err != nil {
			return err
		}
		return txn.Set(userKey, value)
	})
	if err != nil {
		return "", fmt.Errorf("%w: write rejected: %v", ErrPersistence, err)
	}

	return rec.ID, nil
}

// QueryByUser returns up to limit records for the given user, newest
// first. Read failures degrade to an empty result; a user with no history
// yields an empty slice, never an error.
func (g *Gateway) QueryByUser(ctx context.Context, userID string, limit int) []DetectionRecord {
	if userID == "" {
		userID = DefaultUserID
	}

	prefix := []byte(userPrefix + userID + "/")
	return g.scan(ctx, prefix, func(rec *DetectionRecord) (keep, done bool) {
		return true, false
	}, limit)
}

// QueryUrgent returns urgent records with a timestamp inside the window,
// newest first. Read failures degrade to an empty result.
func (g *Gateway) QueryUrgent(ctx context.Context, window time.Duration) []DetectionRecord {
	cutoff := time.Now().UTC().Add(-window)

	return g.scan(ctx, []byte(recordPrefix), func(rec *DetectionRecord) (keep, done bool) {
		if rec.Timestamp.Before(cutoff) {
			// Iteration is newest-first: everything after this is older.
			return false, true
		}
		return rec.IsUrgent, false
	}, 0)
}

// Aggregate counts total/urgent/normal detections inside the window.
// Errors degrade to zero-valued stats.
func (g *Gateway) Aggregate(ctx context.Context, window time.Duration) Stats {
	cutoff := time.Now().UTC().Add(-window)

	var stats Stats
	g.scan(ctx, []byte(recordPrefix), func(rec *DetectionRecord) (keep, done bool) {
		if rec.Timestamp.Before(cutoff) {
			return false, true
		}
		stats.Total++
		if rec.IsUrgent {
			stats.Urgent++
		} else {
			stats.Normal++
		}
		return false, false
	}, 0)

	return stats
}

// Close closes the underlying store.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// scan iterates a key prefix in stored (newest-first) order, decoding each
// record and collecting those the filter keeps. Errors are logged and
// produce a short (possibly empty) result, per best-effort read semantics.
func (g *Gateway) scan(ctx context.Context, prefix []byte, filter func(*DetectionRecord) (keep, done bool), limit int) []DetectionRecord {
	records := make([]DetectionRecord, 0)

	if err := ctx.Err(); err != nil {
		g.logger.Warn("Store read skipped, context done", slog.String("error", err.Error()))
		return records
	}

	err := g.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			var rec DetectionRecord
			if err := msgpack.Unmarshal(value, &rec); err != nil {
				return err
			}

			keep, done := filter(&rec)
			if keep {
				records = append(records, rec)
			}
			if done || (limit > 0 && len(records) >= limit) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		g.logger.Warn("Store read degraded to partial result",
			slog.String("prefix", string(prefix)),
			slog.String("error", err.Error()),
		)
	}

	return records
}

// recordKey builds the global key: rec/<inverted-ts>/<id>.
func recordKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", recordPrefix, invertTimestamp(ts), id))
}

// userRecordKey builds the per-user key: user/<userID>/<inverted-ts>/<id>.
func userRecordKey(userID string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", userPrefix, userID, invertTimestamp(ts), id))
}

// invertTimestamp maps a timestamp so lexicographically ascending keys
// iterate newest records first.
func invertTimestamp(ts time.Time) uint64 {
	return math.MaxInt64 - uint64(ts.UnixNano())
}

// badgerLogger adapts badger's logger interface onto slog, suppressing
// info and debug noise.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf("badger: "+format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (l badgerLogger) Infof(string, ...interface{})  {}
func (l badgerLogger) Debugf(string, ...interface{}) {}
