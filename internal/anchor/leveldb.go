package anchor

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"organlink/pkg/platform/sentinel"
)

const (
	levelHashPrefix = "anchor:"
	levelSeqKey     = "meta:seq"
)

// LevelDB anchors hashes in a local append-only key space. The first write
// for a hash wins; re-recording returns the original reference.
type LevelDB struct {
	db  *leveldb.DB
	now func() time.Time

	mu sync.Mutex
}

// Anchor is what was stored for one hash.
type Anchor struct {
	Seq        uint64    `json:"seq"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (a Anchor) Ref() string {
	return fmt.Sprintf("ldb:%d", a.Seq)
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open anchor db: %w", err)
	}
	return &LevelDB{db: db, now: time.Now}, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) Record(ctx context.Context, hash string) (string, error) {
	if err := validateHash(hash); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, err := l.lookup(hash); err == nil {
		return existing.Ref(), nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}

	seq, err := l.nextSeq()
	if err != nil {
		return "", err
	}
	a := Anchor{Seq: seq, RecordedAt: l.now().UTC()}
	value, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode anchor: %w", err)
	}
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)

	batch := new(leveldb.Batch)
	batch.Put([]byte(levelHashPrefix+hash), value)
	batch.Put([]byte(levelSeqKey), seqBytes)
	if err := l.db.Write(batch, nil); err != nil {
		return "", fmt.Errorf("write anchor: %w", err)
	}
	return a.Ref(), nil
}

// Lookup returns the anchor for hash, or sentinel.ErrNotFound.
func (l *LevelDB) Lookup(_ context.Context, hash string) (Anchor, error) {
	if err := validateHash(hash); err != nil {
		return Anchor{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(hash)
}

func (l *LevelDB) lookup(hash string) (Anchor, error) {
	raw, err := l.db.Get([]byte(levelHashPrefix+hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Anchor{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Anchor{}, fmt.Errorf("read anchor: %w", err)
	}
	var a Anchor
	if err := json.Unmarshal(raw, &a); err != nil {
		return Anchor{}, fmt.Errorf("decode anchor: %w", err)
	}
	return a, nil
}

func (l *LevelDB) nextSeq() (uint64, error) {
	raw, err := l.db.Get([]byte(levelSeqKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read anchor sequence: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt anchor sequence (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint64(raw) + 1, nil
}
