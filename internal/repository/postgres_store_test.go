package repository

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

type fakeListener struct {
	ch       chan *pq.Notification
	once     sync.Once
	channels []string
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification, 4)}
}

func (f *fakeListener) Listen(channel string) error {
	f.channels = append(f.channels, channel)
	return nil
}

func (f *fakeListener) Notifications() <-chan *pq.Notification { return f.ch }

func (f *fakeListener) Close() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}

func newPostgresStoreMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *fakeListener) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	listener := newFakeListener()
	store := newPostgresStore(sqlxDB, func() changeListener { return listener }, Options{})
	t.Cleanup(func() {
		_ = store.Close()
		sqlxDB.Close()
	})
	return store, mock, listener
}

func TestPostgresStoreGet(t *testing.T) {
	store, mock, _ := newPostgresStoreMock(t)
	mock.ExpectQuery("SELECT id, data FROM documents").
		WithArgs(CollectionProfiles, "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).AddRow("u1", []byte(`{"username":"sara"}`)))

	doc, err := store.Get(context.Background(), CollectionProfiles, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.ID)
	assert.JSONEq(t, `{"username":"sara"}`, string(doc.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetMissing(t *testing.T) {
	store, mock, _ := newPostgresStoreMock(t)
	mock.ExpectQuery("SELECT id, data FROM documents").
		WithArgs(CollectionConfig, DocAppConfig).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}))

	_, err := store.Get(context.Background(), CollectionConfig, DocAppConfig)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestPostgresStoreSetMergeNotifies(t *testing.T) {
	store, mock, _ := newPostgresStoreMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET data = documents.data || EXCLUDED.data")).
		WithArgs(CollectionCandidates, "nid_123", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs(ChangeChannel, "candidates/nid_123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Set(context.Background(), CollectionCandidates, "nid_123", map[string]interface{}{"name": "Sara"}, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSetReplace(t *testing.T) {
	store, mock, _ := newPostgresStoreMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET data = EXCLUDED.data")).
		WithArgs(CollectionConfig, DocAppConfig, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("pg_notify").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Set(context.Background(), CollectionConfig, DocAppConfig, map[string]interface{}{"questions": []interface{}{}}, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreQuotaAndPermissionErrors(t *testing.T) {
	store, mock, _ := newPostgresStoreMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").WillReturnError(&pq.Error{Code: "53100", Message: "disk full"})
	mock.ExpectRollback()
	err := store.Set(context.Background(), CollectionCandidates, "a", map[string]interface{}{"name": "x"}, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErrors.FromError(err).Code)

	mock.ExpectQuery("SELECT id, data FROM documents").WillReturnError(&pq.Error{Code: "42501", Message: "permission denied for table documents"})
	_, err = store.Get(context.Background(), CollectionCandidates, "a")
	require.Error(t, err)
	assert.Equal(t, appErrors.KindPermissionDenied, appErrors.Classify(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeleteSkipsNotifyWhenNothingRemoved(t *testing.T) {
	store, mock, _ := newPostgresStoreMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").
		WithArgs(CollectionCandidates, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, store.Delete(context.Background(), CollectionCandidates, "gone"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWatchRequeriesOnNotification(t *testing.T) {
	store, mock, listener := newPostgresStoreMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listQuery := regexp.QuoteMeta("ORDER BY CASE WHEN jsonb_typeof(data->$2) = 'number'")
	mock.ExpectQuery(listQuery).
		WithArgs(CollectionCandidates, "updatedAtMs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).AddRow("a", []byte(`{"updatedAtMs":1}`)))
	mock.ExpectQuery(listQuery).
		WithArgs(CollectionCandidates, "updatedAtMs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).
			AddRow("b", []byte(`{"updatedAtMs":2}`)).
			AddRow("a", []byte(`{"updatedAtMs":1}`)))

	feed, err := store.Watch(ctx, Query{Collection: CollectionCandidates, OrderBy: "updatedAtMs", Desc: true, Limit: 2000})
	require.NoError(t, err)
	assert.Equal(t, []string{ChangeChannel}, listener.channels)

	first := nextEvent(t, feed)
	require.NoError(t, first.Err)
	assert.Equal(t, []string{"a"}, docIDs(first.Snapshot.Docs))

	listener.ch <- &pq.Notification{Channel: ChangeChannel, Extra: "presence/u1"}
	listener.ch <- &pq.Notification{Channel: ChangeChannel, Extra: "candidates/b"}
	second := nextEvent(t, feed)
	require.NoError(t, second.Err)
	assert.Equal(t, []string{"b", "a"}, docIDs(second.Snapshot.Docs))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, nextEvent(t, feed).Err, ErrStoreClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListQuery(t *testing.T) {
	query, args := listQuery(Query{Collection: CollectionAudit, OrderBy: "ts", Desc: true, Limit: 200})
	assert.Contains(t, query, "END DESC, id ASC LIMIT 200")
	assert.Equal(t, []interface{}{CollectionAudit, "ts"}, args)

	query, args = listQuery(Query{Collection: CollectionProfiles})
	assert.Contains(t, query, "ORDER BY id ASC")
	assert.NotContains(t, query, "LIMIT")
	assert.Equal(t, []interface{}{CollectionProfiles}, args)
}
