package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ogero/stremio-webstream/internal/common"
)

// Retention is how long recorded events are kept.
const Retention = 24 * time.Hour

// Event is a recorded analytics event.
type Event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	At     time.Time      `json:"at"`
}

// Journal is a local analytics collector backed by badger. Events expire after Retention.
type Journal struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens the journal at path, an empty path keeps it in memory.
func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithValueLogFileSize(1024 * 1024 * 100).
		WithLogger(&l{})
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to badger.Open: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Track implements session.Tracker. Failures are logged and dropped.
func (j *Journal) Track(ctx context.Context, event string, params map[string]any) {
	if err := j.Record(event, params); err != nil {
		common.Log.WarnContext(ctx, "Failed to journal.Journal.Record", "event", event, "err", err)
	}
}

// Record stores an event.
func (j *Journal) Record(name string, params map[string]any) error {
	at := j.now()

	value, err := json.Marshal(Event{Name: name, Params: params, At: at})
	if err != nil {
		return fmt.Errorf("failed to json.Marshal: %w", err)
	}

	key := fmt.Sprintf("%s%020d/%s", prefix(name), at.UnixNano(), uuid.NewString())

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(Retention))
	})
	if err != nil {
		return fmt.Errorf("failed to store on journal: %w", err)
	}

	return nil
}

// Count counts the events named name recorded since the given time.
func (j *Journal) Count(name string, since time.Time) (int, error) {
	p := []byte(prefix(name))
	count := 0

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(p))
			ts, _, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			nanos, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				continue
			}
			if !time.Unix(0, nanos).Before(since) {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read from journal: %w", err)
	}

	return count, nil
}

// GetPlays24 counts the successful plays in the last 24 hours.
func (j *Journal) GetPlays24() (int, error) {
	return j.Count("play_success", j.now().Add(-Retention))
}

// GetSearches24 counts the searches in the last 24 hours.
func (j *Journal) GetSearches24() (int, error) {
	return j.Count("search", j.now().Add(-Retention))
}

// Close closes the journal DB. It's crucial to call it to ensure all the pending updates make their way to disk.
func (j *Journal) Close() error {
	return j.db.Close()
}

func prefix(name string) string {
	return "event/" + name + "/"
}

type l struct{}

func (l *l) Errorf(s string, i ...interface{}) {
	common.Log.Error(fmt.Sprintf(s, i...))
}

func (l *l) Warningf(s string, i ...interface{}) {
	common.Log.Warn(fmt.Sprintf(s, i...))
}

func (l *l) Infof(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...))
}

func (l *l) Debugf(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...))
}
