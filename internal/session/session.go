// Package session implements an explicit unit of work over a bun database.
//
// A Session owns at most one open transaction. Reads and writes go through
// Conn, which begins the transaction on first use and flushes queued work
// first, so queries always observe the session's own changes.
//
// Loaded instances registered with Track live in an identity map keyed by
// (type, primary key). On Flush, every tracked instance whose fields differ
// from the snapshot taken when it was tracked is written back by primary key.
// Commit flushes, commits and expires the identity map; Rollback discards
// all queued and tracked state.
//
// A Session is not safe for concurrent use.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"student-sandbox/internal/clock"

	"github.com/uptrace/bun"
)

var ErrClosed = errors.New("session closed")

// Entity is a persistent record identified by an integer primary key.
type Entity interface {
	EntityKey() int64
}

// KeyResetter is implemented by entities whose store-assigned key is cleared
// when the transaction that assigned it rolls back.
type KeyResetter interface {
	ResetKey()
}

// Defaulter is implemented by entities that fill column defaults at insert time.
type Defaulter interface {
	ApplyDefaults(now time.Time)
}

type identityKey struct {
	typ reflect.Type
	id  int64
}

type tracked struct {
	entity   Entity
	snapshot reflect.Value
}

type Session struct {
	db     *bun.DB
	clock  clock.Clock
	logger *slog.Logger

	tx       *bun.Tx
	pending  []Entity
	inserted []Entity
	deleted  []Entity
	identity map[identityKey]*tracked
	closed   bool
}

func New(db *bun.DB, clk clock.Clock, logger *slog.Logger) *Session {
	if clk == nil {
		clk = clock.System()
	}
	return &Session{
		db:       db,
		clock:    clk,
		logger:   logger,
		identity: make(map[identityKey]*tracked),
	}
}

// Conn returns the session transaction, beginning it if needed, after
// flushing queued inserts, dirty instances and deletes.
func (s *Session) Conn(ctx context.Context) (bun.IDB, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	return s.tx, nil
}

func (s *Session) begin(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.tx != nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = &tx
	s.logger.DebugContext(ctx, "transaction started")
	return nil
}

// Add queues entities for insertion on the next flush.
func (s *Session) Add(entities ...Entity) error {
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, entities...)
	return nil
}

// BulkSave inserts every element of models, a pointer to a slice of model
// pointers, in one statement. The instances are not tracked.
func (s *Session) BulkSave(ctx context.Context, models interface{}) (int64, error) {
	slice := reflect.ValueOf(models)
	if slice.Kind() != reflect.Ptr || slice.Elem().Kind() != reflect.Slice {
		return 0, fmt.Errorf("bulk save: want pointer to slice, got %T", models)
	}
	if slice.Elem().Len() == 0 {
		return 0, nil
	}

	conn, err := s.Conn(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	for i := 0; i < slice.Elem().Len(); i++ {
		if d, ok := slice.Elem().Index(i).Interface().(Defaulter); ok {
			d.ApplyDefaults(now)
		}
	}

	res, err := conn.NewInsert().Model(models).Returning("*").Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	for i := 0; i < slice.Elem().Len(); i++ {
		if e, ok := slice.Elem().Index(i).Interface().(Entity); ok {
			s.inserted = append(s.inserted, e)
		}
	}
	s.logger.DebugContext(ctx, "bulk save", "rows", n)
	return n, nil
}

// Track registers a loaded entity in the identity map and returns the
// canonical instance for its key. Entities without a key, or not held by
// pointer, are returned as is.
func (s *Session) Track(e Entity) Entity {
	if e.EntityKey() == 0 || reflect.ValueOf(e).Kind() != reflect.Ptr {
		return e
	}
	key := identityKey{typ: reflect.TypeOf(e), id: e.EntityKey()}
	if t, ok := s.identity[key]; ok {
		return t.entity
	}
	s.identity[key] = &tracked{entity: e, snapshot: snapshotOf(e)}
	return e
}

// Tracked reports how many instances are in the identity map.
func (s *Session) Tracked() int {
	return len(s.identity)
}

// Delete queues an entity for deletion on the next flush. Deleting an entity
// still queued for insertion just cancels the insert.
func (s *Session) Delete(e Entity) error {
	if s.closed {
		return ErrClosed
	}
	for i, p := range s.pending {
		if p == e {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	s.deleted = append(s.deleted, e)
	return nil
}

// Expire drops every tracked instance. Called after statements that change
// rows behind the identity map's back.
func (s *Session) Expire() {
	clear(s.identity)
}

// Flush writes queued inserts, dirty tracked instances and queued deletes
// inside the session transaction without committing.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}

	if len(s.pending) > 0 {
		now := s.clock.Now()
		for _, e := range s.pending {
			if d, ok := e.(Defaulter); ok {
				d.ApplyDefaults(now)
			}
			if _, err := s.tx.NewInsert().Model(e).Returning("*").Exec(ctx); err != nil {
				return fmt.Errorf("flush insert: %w", err)
			}
			s.inserted = append(s.inserted, e)
			s.Track(e)
		}
		s.logger.DebugContext(ctx, "flushed inserts", "rows", len(s.pending))
		s.pending = nil
	}

	updated := 0
	for _, t := range s.identity {
		if !t.dirty() {
			continue
		}
		if _, err := s.tx.NewUpdate().Model(t.entity).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("flush update: %w", err)
		}
		t.snapshot = snapshotOf(t.entity)
		updated++
	}
	if updated > 0 {
		s.logger.DebugContext(ctx, "flushed updates", "rows", updated)
	}

	if len(s.deleted) > 0 {
		for _, e := range s.deleted {
			if _, err := s.tx.NewDelete().Model(e).WherePK().Exec(ctx); err != nil {
				return fmt.Errorf("flush delete: %w", err)
			}
			delete(s.identity, identityKey{typ: reflect.TypeOf(e), id: e.EntityKey()})
		}
		s.logger.DebugContext(ctx, "flushed deletes", "rows", len(s.deleted))
		s.deleted = nil
	}
	return nil
}

// Commit flushes queued work and commits the transaction. Tracked instances
// are expired; later reads load fresh copies.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.tx.Commit(); err != nil {
		s.tx = nil
		s.resetInserted()
		return fmt.Errorf("commit: %w", err)
	}
	s.tx = nil
	s.inserted = nil
	s.Expire()
	s.logger.DebugContext(ctx, "transaction committed")
	return nil
}

// Rollback aborts the open transaction, if any, and discards queued and
// tracked state. Entities inserted in the aborted transaction get their keys
// reset when they implement KeyResetter.
func (s *Session) Rollback(ctx context.Context) error {
	s.pending = nil
	s.deleted = nil
	s.resetInserted()
	s.Expire()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	s.logger.DebugContext(ctx, "transaction rolled back")
	return nil
}

// Close rolls back uncommitted work. The session cannot be used afterwards.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	err := s.Rollback(ctx)
	s.closed = true
	return err
}

func (s *Session) resetInserted() {
	for _, e := range s.inserted {
		if r, ok := e.(KeyResetter); ok {
			r.ResetKey()
		}
	}
	s.inserted = nil
}

func (t *tracked) dirty() bool {
	return !reflect.DeepEqual(t.snapshot.Interface(), reflect.ValueOf(t.entity).Elem().Interface())
}

func snapshotOf(e Entity) reflect.Value {
	v := reflect.ValueOf(e).Elem()
	c := reflect.New(v.Type()).Elem()
	c.Set(v)
	return c
}
