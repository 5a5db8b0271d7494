// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an embedded RunStore.
// Keys: "run:<reportId>:<startedAtNanos>" (JSON value).
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the run-history database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func runKey(reportID string, startedAt time.Time) []byte {
	return []byte("run:" + reportID + ":" + strconv.FormatInt(startedAt.UnixNano(), 10))
}

func runPrefix(reportID string) []byte {
	return []byte("run:" + reportID + ":")
}

func (s *BadgerStore) RecordStart(ctx context.Context, rec RunRecord) error {
	if rec.ReportID == "" {
		return fmt.Errorf("store: record start: report ID is required")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(rec.ReportID, rec.StartedAt), buf)
	})
}

func (s *BadgerStore) RecordOutcome(ctx context.Context, reportID, status, errMsg string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:  runPrefix(reportID),
			Reverse: true,
		})
		defer it.Close()

		// Reverse iteration needs a seek key past the prefix range.
		seek := append(runPrefix(reportID), 0xff)
		it.Seek(seek)
		if !it.Valid() {
			return badger.ErrKeyNotFound
		}

		item := it.Item()
		var rec RunRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		rec.Status = status
		rec.Error = errMsg
		rec.EndedAt = time.Now()

		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(item.KeyCopy(nil), buf)
	})
}

func (s *BadgerStore) Runs(ctx context.Context, reportID string) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: runPrefix(reportID)})
		defer it.Close()
		for it.Seek(runPrefix(reportID)); it.Valid(); it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

var _ RunStore = (*BadgerStore)(nil)
