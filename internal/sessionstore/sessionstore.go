// Package sessionstore is the external, TTL-bounded session store keyed as
// "session:{id}:{style|hypotheses|summary}", used across turns to recall a
// caller's prior interaction style and open hypotheses without the core
// pipeline ever caching state in memory. It never stores raw user or
// assistant text — only bounded structural fields. LevelDB-backed, with an
// async non-blocking write queue and a background TTL sweep.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Field is the closed set of per-session fields.
type Field string

const (
	FieldStyle      Field = "style"
	FieldHypotheses Field = "hypotheses"
	FieldSummary    Field = "summary"
)

func (f Field) Validate() error {
	switch f {
	case FieldStyle, FieldHypotheses, FieldSummary:
		return nil
	}
	return fmt.Errorf("sessionstore: invalid field %q", f)
}

// Style is the caller's recalled interaction preference — bounded,
// structural, never free text copied from a request.
type Style struct {
	PreferredVerbosity string `json:"preferred_verbosity"`
	PreferredPosture   string `json:"preferred_posture"`
}

// Hypotheses is the bounded list of open clarification hypotheses carried
// across turns (e.g. candidate intents the last ASK_ONE_QUESTION raised).
type Hypotheses struct {
	Items []string `json:"items"`
}

// Summary is a short structural recap of the session's last decision shape.
type Summary struct {
	LastAction     string `json:"last_action"`
	LastStopReason string `json:"last_stop_reason"`
	LastProximity  string `json:"last_proximity"`
	TurnCount      int    `json:"turn_count"`
}

type record struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// writeRequest is one async write queue entry.
type writeRequest struct {
	key     string
	payload json.RawMessage
	expiry  time.Time
}

const writeQueueSize = 1024

// Store is the LevelDB-backed, TTL-bounded session store.
type Store struct {
	db      *leveldb.DB
	ttl     time.Duration
	writeCh chan writeRequest
}

// Open opens (or creates) a LevelDB database at dbPath with the given
// default TTL for every key written through Set.
func Open(dbPath string, ttl time.Duration) (*Store, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", dbPath, err)
	}
	return &Store{db: db, ttl: ttl, writeCh: make(chan writeRequest, writeQueueSize)}, nil
}

func sessionKey(sessionID string, field Field) string {
	return "session:" + sessionID + ":" + string(field)
}

// Set enqueues field for sessionID for async, non-blocking persistence.
// Drops the write with a warning if the queue is full — session hints are
// best-effort, never on the synchronous request path.
func (s *Store) Set(sessionID string, field Field, value any) error {
	if err := field.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal value: %w", err)
	}
	req := writeRequest{
		key:     sessionKey(sessionID, field),
		payload: data,
		expiry:  time.Now().UTC().Add(s.ttl),
	}
	select {
	case s.writeCh <- req:
	default:
		slog.Warn("sessionstore: write queue full, dropping", "key", req.key)
	}
	return nil
}

// Get reads field for sessionID into dst, reporting (false, nil) if the key
// is absent or has expired (expired keys are lazily deleted on read).
func (s *Store) Get(ctx context.Context, sessionID string, field Field, dst any) (bool, error) {
	if err := field.Validate(); err != nil {
		return false, err
	}
	key := sessionKey(sessionID, field)
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sessionstore: get %s: %w", key, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("sessionstore: unmarshal record: %w", err)
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		_ = s.db.Delete([]byte(key), nil)
		return false, nil
	}
	if err := json.Unmarshal(rec.Value, dst); err != nil {
		return false, fmt.Errorf("sessionstore: unmarshal value: %w", err)
	}
	return true, nil
}

// Run drains the async write queue and runs the periodic TTL sweep until
// ctx is cancelled, then drains any remaining writes and closes the DB.
func (s *Store) Run(ctx context.Context) {
	go s.sweepLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			s.drainWriteQueue()
			if err := s.db.Close(); err != nil {
				slog.Warn("sessionstore: DB close error", "error", err)
			}
			return
		case req := <-s.writeCh:
			s.persist(req)
		}
	}
}

func (s *Store) persist(req writeRequest) {
	rec := record{Value: req.payload, ExpiresAt: req.expiry}
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("sessionstore: marshal record failed", "key", req.key, "error", err)
		return
	}
	if err := s.db.Put([]byte(req.key), data, nil); err != nil {
		slog.Error("sessionstore: persist failed", "key", req.key, "error", err)
	}
}

func (s *Store) drainWriteQueue() {
	for {
		select {
		case req := <-s.writeCh:
			s.persist(req)
		default:
			return
		}
	}
}

// sweepLoop periodically scans every key and hard-deletes expired records.
func (s *Store) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now().UTC()
	iter := s.db.NewIterator(util.BytesPrefix([]byte("session:")), nil)
	defer iter.Release()

	var expired [][]byte
	for iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if now.After(rec.ExpiresAt) {
			key := append([]byte(nil), iter.Key()...)
			expired = append(expired, key)
		}
	}
	if err := iter.Error(); err != nil {
		slog.Warn("sessionstore: sweep iteration error", "error", err)
		return
	}
	for _, key := range expired {
		_ = s.db.Delete(key, nil)
	}
	if len(expired) > 0 {
		slog.Info("sessionstore: sweep complete", "expired", len(expired))
	}
}
