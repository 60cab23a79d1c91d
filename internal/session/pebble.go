package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/zulandar/orderbot/internal/conversation"
)

const stripes = 64

var (
	sessionPrefix = []byte("sess\x00")
	eventPrefix   = []byte("evt\x00")
)

// PebbleStoreOpts configures a PebbleStore.
type PebbleStoreOpts struct {
	Path string
	FS   vfs.FS // nil uses the OS filesystem
	TTL  time.Duration
	Now  func() time.Time
}

// PebbleStore keeps sessions in an embedded Pebble database. Writers to the
// same key are serialized by a striped mutex and each swap commits the
// session and its processed-event record in one batch. It is meant for a
// single process; run several replicas against SQLStore.
type PebbleStore struct {
	db    *pebble.DB
	ttl   time.Duration
	now   func() time.Time
	locks [stripes]sync.Mutex
}

// OpenPebbleStore opens or creates the database at opts.Path.
func OpenPebbleStore(opts PebbleStoreOpts) (*PebbleStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("session: pebble store: path is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	db, err := pebble.Open(opts.Path, popts)
	if err != nil {
		return nil, fmt.Errorf("session: open pebble %s: %w", opts.Path, err)
	}
	return &PebbleStore{db: db, ttl: opts.TTL, now: opts.Now}, nil
}

func sessionKey(key conversation.Key) []byte {
	return []byte(string(sessionPrefix) + key.TenantID + "\x00" + key.Channel + "\x00" + key.SenderID)
}

func eventKey(key conversation.Key, eventID string) []byte {
	return []byte(string(eventPrefix) + key.TenantID + "\x00" + key.Channel + "\x00" + key.SenderID + "\x00" + eventID)
}

func (p *PebbleStore) lock(sk []byte) *sync.Mutex {
	h := fnv.New32a()
	h.Write(sk)
	return &p.locks[h.Sum32()%stripes]
}

func (p *PebbleStore) get(k []byte) ([]byte, bool, error) {
	v, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, true, nil
}

func prefixBounds(prefix []byte) *pebble.IterOptions {
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: upper}
}

// Load implements Store.
func (p *PebbleStore) Load(ctx context.Context, key conversation.Key) (*conversation.Session, error) {
	now := p.now()
	data, found, err := p.get(sessionKey(key))
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", key, err)
	}
	if !found {
		return conversation.NewSession(key, now), nil
	}
	sess, err := decode(key, data)
	if err != nil {
		return nil, err
	}
	return expire(sess, p.ttl, now), nil
}

// CompareAndSwap implements Store.
func (p *PebbleStore) CompareAndSwap(ctx context.Context, sess *conversation.Session, expected int64) error {
	key := sess.Key()
	sk := sessionKey(key)
	now := p.now()

	mu := p.lock(sk)
	mu.Lock()
	defer mu.Unlock()

	var ek []byte
	if sess.LastEventID != "" {
		ek = eventKey(key, sess.LastEventID)
		_, dup, err := p.get(ek)
		if err != nil {
			return fmt.Errorf("session: swap %s: %w", key, err)
		}
		if dup {
			return ErrDuplicate
		}
	}

	cur, found, err := p.get(sk)
	if err != nil {
		return fmt.Errorf("session: swap %s: %w", key, err)
	}
	var stored struct {
		Version int64 `json:"version"`
	}
	if found {
		if err := json.Unmarshal(cur, &stored); err != nil {
			return fmt.Errorf("session: swap %s: decode stored: %w", key, err)
		}
	}
	if stored.Version != expected {
		return ErrConflict
	}

	next := sess.Clone()
	next.Version = expected + 1
	next.UpdatedAt = now
	data, err := encode(next)
	if err != nil {
		return err
	}

	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set(sk, data, nil); err != nil {
		return fmt.Errorf("session: swap %s: %w", key, err)
	}
	if ek != nil {
		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(now.UnixNano()))
		if err := b.Set(ek, ts[:], nil); err != nil {
			return fmt.Errorf("session: swap %s: %w", key, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("session: swap %s: commit: %w", key, err)
	}
	sess.Version = next.Version
	sess.UpdatedAt = now
	return nil
}

// Seen implements Store.
func (p *PebbleStore) Seen(ctx context.Context, key conversation.Key, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	_, found, err := p.get(eventKey(key, eventID))
	if err != nil {
		return false, fmt.Errorf("session: seen %s: %w", key, err)
	}
	return found, nil
}

// Delete implements Store.
func (p *PebbleStore) Delete(ctx context.Context, key conversation.Key) error {
	sk := sessionKey(key)
	mu := p.lock(sk)
	mu.Lock()
	defer mu.Unlock()
	if err := p.db.Delete(sk, pebble.Sync); err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

// Purge implements Store.
func (p *PebbleStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	stale, err := p.scan(sessionPrefix, func(v []byte) bool {
		var s struct {
			UpdatedAt time.Time `json:"updated_at"`
		}
		return json.Unmarshal(v, &s) == nil && s.UpdatedAt.Before(olderThan)
	})
	if err != nil {
		return 0, fmt.Errorf("session: purge: %w", err)
	}

	var n int64
	for _, sk := range stale {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		removed, err := p.purgeOne(sk, olderThan)
		if err != nil {
			return n, fmt.Errorf("session: purge: %w", err)
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// purgeOne re-checks the session under its lock so a concurrent swap is
// never lost.
func (p *PebbleStore) purgeOne(sk []byte, olderThan time.Time) (bool, error) {
	mu := p.lock(sk)
	mu.Lock()
	defer mu.Unlock()
	v, found, err := p.get(sk)
	if err != nil || !found {
		return false, err
	}
	var s struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if json.Unmarshal(v, &s) == nil && !s.UpdatedAt.Before(olderThan) {
		return false, nil
	}
	return true, p.db.Delete(sk, pebble.Sync)
}

// PruneEvents implements Store.
func (p *PebbleStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := uint64(olderThan.UnixNano())
	stale, err := p.scan(eventPrefix, func(v []byte) bool {
		return len(v) == 8 && binary.BigEndian.Uint64(v) < cutoff
	})
	if err != nil {
		return 0, fmt.Errorf("session: prune events: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	b := p.db.NewBatch()
	defer b.Close()
	for _, k := range stale {
		if err := b.Delete(k, nil); err != nil {
			return 0, fmt.Errorf("session: prune events: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("session: prune events: commit: %w", err)
	}
	return int64(len(stale)), nil
}

// scan returns the keys under prefix whose value matches.
func (p *PebbleStore) scan(prefix []byte, match func([]byte) bool) ([][]byte, error) {
	iter, err := p.db.NewIter(prefixBounds(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if match(iter.Value()) {
			out = append(out, append([]byte(nil), iter.Key()...))
		}
	}
	return out, iter.Error()
}

// Close implements Store.
func (p *PebbleStore) Close() error {
	return p.db.Close()
}
