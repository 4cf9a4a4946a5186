package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

const redisMergeAttempts = 5

// RedisStore keeps each collection in one hash (docs:{collection}, field = document id)
// and announces every write on docs:changes:{collection}. Feeds subscribe to that
// channel and re-read the collection on each burst of messages.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

// NewRedisStore wraps an established client. prefix namespaces every key and channel.
func NewRedisStore(client *redis.Client, prefix string, opts Options) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, opts: opts.withDefaults()}
}

func (r *RedisStore) key(collection string) string {
	return r.prefix + "docs:" + collection
}

func (r *RedisStore) channel(collection string) string {
	return r.prefix + "docs:changes:" + collection
}

// Get implements DocumentStore.
func (r *RedisStore) Get(ctx context.Context, collection, id string) (doc *Document, err error) {
	defer r.opts.observe("redis", OpGet, time.Now(), &err)
	raw, err := r.client.HGet(ctx, r.key(collection), id).Bytes()
	if err != nil {
		return nil, r.translate(OpGet, err)
	}
	return &Document{ID: id, Data: raw}, nil
}

// Set implements DocumentStore. Merges run inside WATCH/MULTI so concurrent writers to
// the same collection never lose each other's fields.
func (r *RedisStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) (err error) {
	defer r.opts.observe("redis", OpSet, time.Now(), &err)
	key := r.key(collection)
	channel := r.channel(collection)
	resolved := resolveFields(fields, r.opts.Clock().UnixMilli())

	if !merge {
		encoded, err := encodeDocument(nil, resolved, false)
		if err != nil {
			return err
		}
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, []byte(encoded))
			pipe.Publish(ctx, channel, id)
			return nil
		})
		return r.translate(OpSet, err)
	}

	txf := func(tx *redis.Tx) error {
		existing, err := tx.HGet(ctx, key, id).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		encoded, err := encodeDocument(existing, resolved, true)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, []byte(encoded))
			pipe.Publish(ctx, channel, id)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMergeAttempts; attempt++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return r.translate(OpSet, err)
		}
	}
	return r.translate(OpSet, err)
}

// Add implements DocumentStore.
func (r *RedisStore) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if err := r.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

// Delete implements DocumentStore.
func (r *RedisStore) Delete(ctx context.Context, collection, id string) (err error) {
	defer r.opts.observe("redis", OpDelete, time.Now(), &err)
	removed, err := r.client.HDel(ctx, r.key(collection), id).Result()
	if err != nil {
		return r.translate(OpDelete, err)
	}
	if removed > 0 {
		if err := r.client.Publish(ctx, r.channel(collection), id).Err(); err != nil {
			r.opts.Logger.Debug("redis publish after delete failed")
		}
	}
	return nil
}

// Watch implements DocumentStore.
func (r *RedisStore) Watch(ctx context.Context, q Query) (<-chan FeedEvent, error) {
	pubsub := r.client.Subscribe(ctx, r.channel(q.Collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, r.translate(OpWatch, err)
	}

	sig := newChangeSignal()
	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					sig.fail(ErrFeedClosed)
					return
				}
				if q.IsDocument() && msg.Payload != q.DocID {
					continue
				}
				sig.notify(1)
			}
		}
	}()

	out := make(chan FeedEvent, 1)
	go func() {
		defer pubsub.Close()
		runFeed(ctx, q, r.load, sig, out, r.opts.Retry, r.opts.Logger)
	}()
	return out, nil
}

// Close implements DocumentStore.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) load(ctx context.Context, q Query) (Snapshot, error) {
	start := time.Now()
	var err error
	defer r.opts.observe("redis", OpQuery, start, &err)

	if q.IsDocument() {
		var raw []byte
		raw, err = r.client.HGet(ctx, r.key(q.Collection), q.DocID).Bytes()
		if errors.Is(err, redis.Nil) {
			err = nil
			return Snapshot{}, nil
		}
		if err != nil {
			err = r.translate(OpQuery, err)
			return Snapshot{}, err
		}
		return Snapshot{Exists: true, Docs: []Document{{ID: q.DocID, Data: raw}}}, nil
	}

	var all map[string]string
	all, err = r.client.HGetAll(ctx, r.key(q.Collection)).Result()
	if err != nil {
		err = r.translate(OpQuery, err)
		return Snapshot{}, err
	}
	docs := make([]Document, 0, len(all))
	for id, raw := range all {
		docs = append(docs, Document{ID: id, Data: json.RawMessage(raw)})
	}
	return Snapshot{Exists: true, Docs: selectDocuments(docs, q)}, nil
}

// translate maps go-redis failures onto the store errors.
func (r *RedisStore) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrDocumentNotFound
	}
	switch appErrors.Classify(err) {
	case appErrors.KindQuotaExceeded:
		return appErrors.Wrap(err, ErrResourceExhausted.Code, ErrResourceExhausted.Status, ErrResourceExhausted.Message)
	case appErrors.KindPermissionDenied:
		return appErrors.Wrap(err, ErrPermission.Code, ErrPermission.Status, ErrPermission.Message)
	case appErrors.KindTransient:
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "redis "+op+" unavailable")
	}
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return fmt.Errorf("redis %s: %w", op, err)
}
