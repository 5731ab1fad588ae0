// Package bolt implements a pipeline.ReportSource backed by a bbolt
// database of newline-delimited wire-encoded batches, grounded on
// state/cat.go's bbolt.Open and bucket conventions.
package bolt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/wire"
)

var (
	batchesBucket = []byte("batches")
	cursorBucket  = []byte("cursor")
	cursorKey     = []byte("next")
)

// Source reads sequentially numbered batches written by Append,
// tracking the next offset to read in a dedicated bucket so a process
// restart resumes where it left off rather than replaying history.
type Source struct {
	db *bbolt.DB
}

// Open opens a bbolt database at path and returns a Source reading from
// it. Unless readOnly is set, a missing file is created and its buckets
// are initialised. readOnly mirrors bbolt.Options.ReadOnly; a read-only
// Source's GetReports never advances the cursor bucket, so a read-only
// diagnostic process cannot steal batches from a production reader
// using the same file. Its GetReports returns the batch at the stored
// cursor together with bbolt's error from the refused cursor write, and
// returns that same batch on every call.
func Open(path string, readOnly bool) (*Source, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	if !readOnly {
		err := db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(batchesBucket); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(cursorBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("bolt: init buckets: %w", err)
		}
	}
	return &Source{db: db}, nil
}

// Close closes the underlying database.
func (s *Source) Close() error {
	return s.db.Close()
}

// Append writes reports as one newline-delimited wire payload batch,
// keyed by the next sequential offset. Intended for ingest-side
// producers and tests; the pipeline driver only calls GetReports.
func (s *Source) Append(payload []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(batchesBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(offsetKey(seq), payload)
	})
}

// GetReports implements pipeline.ReportSource: it reads the batch at
// the current cursor offset, decodes it with wire.DecodeDetections,
// advances the cursor, and returns the decoded reports. Once the
// cursor has passed every stored batch it returns an empty, nil-error
// slice, matching ReportSource's end-of-input contract.
func (s *Source) GetReports(ctx context.Context) ([]report.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payload []byte
	var nextOffset uint64
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		offset := s.cursor(tx)
		bucket := tx.Bucket(batchesBucket)
		c := bucket.Cursor()
		for k, v := c.Seek(offsetKey(offset)); k != nil; k, v = c.Next() {
			found = true
			payload = append([]byte(nil), v...)
			nextOffset = decodeOffset(k) + 1
			break
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	reports, err := decodeBatch(payload)
	if err != nil {
		return nil, fmt.Errorf("bolt: decoding batch: %w", err)
	}

	return reports, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cursorBucket).Put(cursorKey, offsetKey(nextOffset))
	})
}

func (s *Source) cursor(tx *bbolt.Tx) uint64 {
	v := tx.Bucket(cursorBucket).Get(cursorKey)
	if v == nil {
		return 0
	}
	return decodeOffset(v)
}

func decodeBatch(payload []byte) ([]report.Detection, error) {
	var out []report.Detection
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ds, err := wire.DecodeDetections(line)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, scanner.Err()
}

func offsetKey(offset uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, offset)
	return b
}

func decodeOffset(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
