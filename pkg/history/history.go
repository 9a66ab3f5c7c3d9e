package history

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

const runKeyPrefix = "run:"

// MachineRecord is the stored outcome of one machine
type MachineRecord struct {
	ID        machine.ID      `json:"vm_id"`
	Name      string          `json:"name"`
	Type      machine.Type    `json:"type"`
	Outcome   machine.Outcome `json:"outcome"`
	StartTime time.Time       `json:"start_time"`
	Duration  time.Duration   `json:"duration"`
	Aborted   bool            `json:"aborted,omitempty"`
}

// RunRecord is one stored startup run
type RunRecord struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	FatalError string          `json:"fatal_error,omitempty"`
	Machines   []MachineRecord `json:"machines"`
}

// NewRunRecord creates a record with a fresh id
func NewRunRecord(startedAt time.Time) *RunRecord {
	return &RunRecord{
		ID:        uuid.NewString(),
		StartedAt: startedAt,
	}
}

// OnStatus collects a machine outcome into the record
func (r *RunRecord) OnStatus(event machine.StatusEvent) {
	r.Machines = append(r.Machines, MachineRecord{
		ID:        event.Machine.ID,
		Name:      event.Machine.Name,
		Type:      event.Machine.Type,
		Outcome:   event.Outcome,
		StartTime: event.StartTime,
		Duration:  event.Duration,
		Aborted:   event.Aborted,
	})
}

// Store keeps run records in a Badger database
type Store struct {
	db *badger.DB
}

type Options struct {
	Path     string
	InMemory bool
}

func Open(options Options) (*Store, error) {
	var opts badger.Options
	if options.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if options.Path == "" {
			return nil, errors.NewValidationError("history path is required", nil)
		}
		opts = badger.DefaultOptions(filepath.Clean(options.Path)).WithValueLogFileSize(1 << 20)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.NewIOError("failed to open history database", err).WithContext("path", options.Path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// runKey sorts chronologically; the id keeps runs started in the same nanosecond apart
func runKey(record *RunRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", runKeyPrefix, record.StartedAt.UnixNano(), record.ID))
}

func (s *Store) Save(ctx context.Context, record *RunRecord) error {
	if record.ID == "" {
		return errors.NewValidationError("run record has no id", nil)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.NewInternalError("failed to encode run record", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(record), data)
	})
	if err != nil {
		return errors.NewIOError("failed to save run record", err).WithContext("id", record.ID)
	}
	return nil
}

// Latest returns up to limit runs, newest first
func (s *Store) Latest(ctx context.Context, limit int) ([]RunRecord, error) {
	var records []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration starts at the largest key not above the seek key
		for it.Seek([]byte(runKeyPrefix + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var record RunRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &record)
			}); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError("failed to read run history", err)
	}
	return records, nil
}

// Get returns one run by id
func (s *Store) Get(ctx context.Context, id string) (*RunRecord, error) {
	records, err := s.Latest(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, errors.NewNotFoundError("run not found", nil).WithContext("id", id)
}
