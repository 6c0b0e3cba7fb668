package recording

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/pkg/db"
	"github.com/eric2788/screenrec/pkg/pool"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/fx"
)

const recordIndexBucket = "Recording_Index"

const defaultTTL = 5 * time.Minute

// Entry is what the index keeps about one persisted record.
type Entry struct {
	Filename        string    `json:"filename"`
	SessionID       string    `json:"sessionId"`
	ProcessedAt     time.Time `json:"processedAt"`
	EventsProcessed int       `json:"eventsProcessed"`
	VideoPath       string    `json:"videoPath,omitempty"`
	AudioPath       string    `json:"audioPath,omitempty"`
}

// Index maps sessions to their persisted records. Keys are sessionId + 0x00 + filename,
// so the records of a session are contiguous and ordered by filename.
type Index struct {
	client *db.Client
	bucket *db.Bucket
	cache  *ttlcache.Cache[string, []*Entry]
	ser    *pool.Serializer

	// bumped by every Add, so a List that raced one does not keep its result cached
	gen atomic.Uint64
}

func NewIndex(lc fx.Lifecycle, cfg *config.Config) *Index {
	idx := &Index{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []*Entry](defaultTTL),
			ttlcache.WithCapacity[string, []*Entry](100),
		),
		ser: pool.NewSerializer(),
	}

	lc.Append(fx.StartStopHook(
		func() error {
			if err := os.MkdirAll(cfg.DatabaseDir, 0755); err != nil {
				return err
			}
			return idx.open(filepath.Join(cfg.DatabaseDir, "recordings.db"))
		},
		idx.Close,
	))

	return idx
}

// OpenIndex opens an index outside of the fx lifecycle. Callers must Close it.
func OpenIndex(path string) (*Index, error) {
	idx := &Index{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []*Entry](defaultTTL),
			ttlcache.WithCapacity[string, []*Entry](100),
		),
		ser: pool.NewSerializer(),
	}
	if err := idx.open(path); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) open(path string) error {
	client, err := db.Open(path)
	if err != nil {
		return err
	}
	bucket, err := client.Bucket(recordIndexBucket)
	if err != nil {
		_ = client.Close()
		return err
	}
	i.client = client
	i.bucket = bucket
	go i.cache.Start()
	return nil
}

func (i *Index) Close() error {
	if i.client == nil {
		return nil
	}
	i.cache.Stop()
	i.cache.DeleteAll()
	return i.client.Close()
}

func (i *Index) Add(e *Entry) error {
	data, err := i.ser.Serialize(e)
	if err != nil {
		return err
	}
	if err := i.bucket.Put(indexKey(e.SessionID, e.Filename), data); err != nil {
		return err
	}
	i.gen.Add(1)
	i.cache.Delete(e.SessionID)
	return nil
}

// List returns the records of a session, oldest first.
func (i *Index) List(sessionID string) ([]*Entry, error) {
	if item := i.cache.Get(sessionID); item != nil {
		return item.Value(), nil
	}

	gen := i.gen.Load()
	prefix := indexKey(sessionID, "")
	entries := make([]*Entry, 0)
	err := i.bucket.Scan(prefix, func(k, v []byte) error {
		var e Entry
		if err := i.ser.Deserialize(v, &e); err != nil {
			logger.Warnf("error decoding index entry %q: %v, ignored.", k, err)
			return nil
		}
		entries = append(entries, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.cache.Set(sessionID, entries, ttlcache.DefaultTTL)
	if i.gen.Load() != gen {
		i.cache.Delete(sessionID)
	}
	return entries, nil
}

// Sessions returns every session with at least one record.
func (i *Index) Sessions() ([]string, error) {
	sessions := make([]string, 0)
	err := i.bucket.ForEach(func(k, v []byte) error {
		session, _, ok := bytes.Cut(k, []byte{0})
		if !ok {
			return nil
		}
		if n := len(sessions); n == 0 || sessions[n-1] != string(session) {
			sessions = append(sessions, string(session))
		}
		return nil
	})
	return sessions, err
}

func (i *Index) Count() (int, error) {
	return i.bucket.Count()
}

func indexKey(sessionID, filename string) []byte {
	key := make([]byte, 0, len(sessionID)+1+len(filename))
	key = append(key, sessionID...)
	key = append(key, 0)
	return append(key, filename...)
}
