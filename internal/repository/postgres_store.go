package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

// ChangeChannel is the LISTEN/NOTIFY channel written on every document change. The
// payload is "{collection}/{id}".
const ChangeChannel = "documents_changed"

const documentsSchema = `CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, id)
)`

// changeListener is the part of *pq.Listener the store needs.
type changeListener interface {
	Listen(channel string) error
	Notifications() <-chan *pq.Notification
	Close() error
}

type pqListener struct {
	*pq.Listener
}

func (l pqListener) Notifications() <-chan *pq.Notification {
	return l.Notify
}

type postgresWatcher struct {
	query Query
	sig   *changeSignal
}

// PostgresStore keeps documents as jsonb rows and fans NOTIFY events out to feeds.
type PostgresStore struct {
	db   *sqlx.DB
	opts Options

	newListener func() changeListener

	mu       sync.Mutex
	listener changeListener
	watchers map[*postgresWatcher]struct{}
	closed   bool
}

// NewPostgresStore builds a store on db. dsn is used for the dedicated LISTEN connection,
// opened on the first Watch.
func NewPostgresStore(db *sqlx.DB, dsn string, opts Options) *PostgresStore {
	opts = opts.withDefaults()
	logger := opts.Logger
	return newPostgresStore(db, func() changeListener {
		l := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})
		return pqListener{Listener: l}
	}, opts)
}

func newPostgresStore(db *sqlx.DB, newListener func() changeListener, opts Options) *PostgresStore {
	return &PostgresStore{
		db:          db,
		opts:        opts.withDefaults(),
		newListener: newListener,
		watchers:    make(map[*postgresWatcher]struct{}),
	}
}

// EnsureSchema creates the documents table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

type documentRow struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

// Get implements DocumentStore.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (doc *Document, err error) {
	defer s.opts.observe("postgres", OpGet, time.Now(), &err)
	const query = `SELECT id, data FROM documents WHERE collection = $1 AND id = $2`
	var row documentRow
	if err = s.db.GetContext(ctx, &row, query, collection, id); err != nil {
		err = s.translate(OpGet, err)
		return nil, err
	}
	return &Document{ID: row.ID, Data: row.Data}, nil
}

// Set implements DocumentStore. A merge uses jsonb concatenation, so top-level keys are
// replaced and the others kept.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) (err error) {
	defer s.opts.observe("postgres", OpSet, time.Now(), &err)
	encoded, err := encodeDocument(nil, resolveFields(fields, s.opts.Clock().UnixMilli()), false)
	if err != nil {
		return err
	}

	update := "EXCLUDED.data"
	if merge {
		update = "documents.data || EXCLUDED.data"
	}
	query := `INSERT INTO documents (collection, id, data, updated_at)
VALUES ($1, $2, $3::jsonb, NOW())
ON CONFLICT (collection, id)
DO UPDATE SET data = ` + update + `, updated_at = NOW()`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		err = s.translate(OpSet, err)
		return err
	}
	if _, err = tx.ExecContext(ctx, query, collection, id, string(encoded)); err != nil {
		_ = tx.Rollback()
		err = s.translate(OpSet, err)
		return err
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, collection+"/"+id); err != nil {
		_ = tx.Rollback()
		err = s.translate(OpSet, err)
		return err
	}
	if err = tx.Commit(); err != nil {
		err = s.translate(OpSet, err)
		return err
	}
	return nil
}

// Add implements DocumentStore.
func (s *PostgresStore) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

// Delete implements DocumentStore.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) (err error) {
	defer s.opts.observe("postgres", OpDelete, time.Now(), &err)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		err = s.translate(OpDelete, err)
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		_ = tx.Rollback()
		err = s.translate(OpDelete, err)
		return err
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, collection+"/"+id); err != nil {
			_ = tx.Rollback()
			err = s.translate(OpDelete, err)
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		err = s.translate(OpDelete, err)
		return err
	}
	return nil
}

// Watch implements DocumentStore.
func (s *PostgresStore) Watch(ctx context.Context, q Query) (<-chan FeedEvent, error) {
	if err := s.ensureListening(); err != nil {
		return nil, s.translate(OpWatch, err)
	}
	w := &postgresWatcher{query: q, sig: newChangeSignal()}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	out := make(chan FeedEvent, 1)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
		}()
		runFeed(ctx, q, s.load, w.sig, out, s.opts.Retry, s.opts.Logger)
	}()
	return out, nil
}

// Close implements DocumentStore. The sqlx handle stays owned by the caller.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	s.listener = nil
	watchers := make([]*postgresWatcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w.sig.fail(ErrStoreClosed)
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

func (s *PostgresStore) ensureListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.listener != nil {
		return nil
	}
	l := s.newListener()
	if err := l.Listen(ChangeChannel); err != nil {
		_ = l.Close()
		return err
	}
	s.listener = l
	go s.dispatch(l.Notifications())
	return nil
}

// dispatch fans notifications out to the matching feeds. A nil notification means the
// listener reconnected and events may have been lost, so every feed re-queries.
func (s *PostgresStore) dispatch(notifications <-chan *pq.Notification) {
	for n := range notifications {
		collection, id := "", ""
		if n != nil {
			collection, id, _ = strings.Cut(n.Extra, "/")
		}
		s.mu.Lock()
		for w := range s.watchers {
			if n == nil {
				w.sig.notify(1)
				continue
			}
			if w.query.Collection != collection {
				continue
			}
			if w.query.IsDocument() && w.query.DocID != id {
				continue
			}
			w.sig.notify(1)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.listener = nil
	for w := range s.watchers {
		w.sig.fail(ErrFeedClosed)
	}
}

func (s *PostgresStore) load(ctx context.Context, q Query) (snap Snapshot, err error) {
	defer s.opts.observe("postgres", OpQuery, time.Now(), &err)
	if q.IsDocument() {
		var row documentRow
		err = s.db.GetContext(ctx, &row, `SELECT id, data FROM documents WHERE collection = $1 AND id = $2`, q.Collection, q.DocID)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			return Snapshot{}, nil
		}
		if err != nil {
			err = s.translate(OpQuery, err)
			return Snapshot{}, err
		}
		return Snapshot{Exists: true, Docs: []Document{{ID: row.ID, Data: row.Data}}}, nil
	}

	query, args := listQuery(q)
	var rows []documentRow
	if err = s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		err = s.translate(OpQuery, err)
		return Snapshot{}, err
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Document{ID: row.ID, Data: row.Data})
	}
	return Snapshot{Exists: true, Docs: docs}, nil
}

func listQuery(q Query) (string, []interface{}) {
	var b strings.Builder
	args := []interface{}{q.Collection}
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		b.WriteString(` ORDER BY CASE WHEN jsonb_typeof(data->$2) = 'number' THEN (data->>$2)::double precision ELSE 0 END `)
		b.WriteString(dir)
		b.WriteString(`, id ASC`)
	} else {
		b.WriteString(` ORDER BY id ASC`)
	}
	if q.Limit > 0 {
		b.WriteString(` LIMIT `)
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return b.String(), args
}

func (s *PostgresStore) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDocumentNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "53":
			return appErrors.Wrap(err, ErrResourceExhausted.Code, ErrResourceExhausted.Status, ErrResourceExhausted.Message)
		case pqErr.Code == "42501":
			return appErrors.Wrap(err, ErrPermission.Code, ErrPermission.Status, ErrPermission.Message)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code == "40001", pqErr.Code == "40P01":
			return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "postgres "+op+" unavailable")
		}
	}
	switch appErrors.Classify(err) {
	case appErrors.KindQuotaExceeded:
		return appErrors.Wrap(err, ErrResourceExhausted.Code, ErrResourceExhausted.Status, ErrResourceExhausted.Message)
	case appErrors.KindTransient:
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "postgres "+op+" unavailable")
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}
