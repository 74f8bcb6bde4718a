package redmap

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/redmap/internal/db"
	"github.com/kailas-cloud/redmap/internal/metrics"
)

const jsonRootPath = "$"

// Repository provides typed persistence and querying for one model.
// A repository is stateless beyond its schema and safe for concurrent use.
type Repository[T any] struct {
	client    *Client
	schema    *Schema
	keyPrefix string
	indexName string
}

// NewRepository derives the schema of T and binds it to the client's
// connection. Key prefix and index name follow the client's key prefix:
// "<prefix>:<model>:<pk>" and "<prefix>:<model>:index".
func NewRepository[T any](c *Client, opts ...SchemaOption) (*Repository[T], error) {
	schema, err := SchemaOf[T](opts...)
	if err != nil {
		return nil, err
	}
	prefix := c.prefix + ":" + toSnake(schema.Name())
	return &Repository[T]{
		client:    c,
		schema:    schema,
		keyPrefix: prefix,
		indexName: prefix + ":index",
	}, nil
}

// MustNewRepository is NewRepository that panics on schema errors.
// Intended for package-level repository construction.
func MustNewRepository[T any](c *Client, opts ...SchemaOption) *Repository[T] {
	r, err := NewRepository[T](c, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Schema returns the derived model schema.
func (r *Repository[T]) Schema() *Schema { return r.schema }

// IndexName returns the FT index name serving this repository's queries.
func (r *Repository[T]) IndexName() string { return r.indexName }

// Key returns the storage key for a primary key value.
func (r *Repository[T]) Key(pk string) string { return r.keyPrefix + ":" + pk }

// IndexDefinition returns the FT.CREATE definition for this repository.
func (r *Repository[T]) IndexDefinition() *db.IndexDefinition {
	return r.schema.IndexDefinition(r.indexName, r.keyPrefix+":")
}

// Save persists a model, generating a primary key when it has none.
// The generated key is written back into the model and returned.
func (r *Repository[T]) Save(ctx context.Context, m *T) (string, error) {
	start := time.Now()
	pk, err := r.save(ctx, m)
	metrics.ObserveOperation(r.schema.Name(), "save", start, err)
	return pk, err
}

func (r *Repository[T]) save(ctx context.Context, m *T) (string, error) {
	rv := reflect.ValueOf(m).Elem()
	pk := r.ensurePK(rv)

	if r.schema.Storage() == db.StorageJSON {
		data, err := r.encodeJSON(rv)
		if err != nil {
			return "", err
		}
		return pk, r.client.store.JSONSet(ctx, r.Key(pk), jsonRootPath, data)
	}

	fields, err := r.schema.hashFields(rv)
	if err != nil {
		return "", err
	}
	return pk, r.client.store.HSet(ctx, r.Key(pk), fields)
}

// SaveMulti persists a batch of models in a single pipelined round-trip.
func (r *Repository[T]) SaveMulti(ctx context.Context, ms []*T) ([]string, error) {
	start := time.Now()
	pks, err := r.saveMulti(ctx, ms)
	metrics.ObserveOperation(r.schema.Name(), "save_multi", start, err)
	return pks, err
}

func (r *Repository[T]) saveMulti(ctx context.Context, ms []*T) ([]string, error) {
	if len(ms) == 0 {
		return nil, nil
	}

	pks := make([]string, len(ms))

	if r.schema.Storage() == db.StorageJSON {
		items := make([]db.JSONSetItem, len(ms))
		for i, m := range ms {
			rv := reflect.ValueOf(m).Elem()
			pks[i] = r.ensurePK(rv)
			data, err := r.encodeJSON(rv)
			if err != nil {
				return nil, err
			}
			items[i] = db.JSONSetItem{Key: r.Key(pks[i]), Path: jsonRootPath, Data: data}
		}
		return pks, r.client.store.JSONSetMulti(ctx, items)
	}

	items := make([]db.HashSetItem, len(ms))
	for i, m := range ms {
		rv := reflect.ValueOf(m).Elem()
		pks[i] = r.ensurePK(rv)
		fields, err := r.schema.hashFields(rv)
		if err != nil {
			return nil, err
		}
		items[i] = db.HashSetItem{Key: r.Key(pks[i]), Fields: fields}
	}
	return pks, r.client.store.HSetMulti(ctx, items)
}

// Get loads the model stored under the given primary key.
// Returns ErrNotFound when no such model exists.
func (r *Repository[T]) Get(ctx context.Context, pk string) (*T, error) {
	start := time.Now()
	m, err := r.get(ctx, pk)
	metrics.ObserveOperation(r.schema.Name(), "get", start, err)
	return m, err
}

func (r *Repository[T]) get(ctx context.Context, pk string) (*T, error) {
	m := new(T)
	rv := reflect.ValueOf(m).Elem()

	if r.schema.Storage() == db.StorageJSON {
		data, err := r.client.store.JSONGet(ctx, r.Key(pk), jsonRootPath)
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if err := r.schema.loadJSONDoc(data, rv); err != nil {
			return nil, err
		}
		return m, nil
	}

	fields, err := r.client.store.HGetAll(ctx, r.Key(pk))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	if err := r.schema.loadHashFields(fields, rv); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMulti loads a batch of models. The result matches the order of pks,
// with nil entries for keys that do not exist.
func (r *Repository[T]) GetMulti(ctx context.Context, pks []string) ([]*T, error) {
	start := time.Now()
	ms, err := r.getMulti(ctx, pks)
	metrics.ObserveOperation(r.schema.Name(), "get_multi", start, err)
	return ms, err
}

func (r *Repository[T]) getMulti(ctx context.Context, pks []string) ([]*T, error) {
	if len(pks) == 0 {
		return nil, nil
	}

	out := make([]*T, len(pks))

	if r.schema.Storage() == db.StorageJSON {
		for i, pk := range pks {
			m, err := r.get(ctx, pk)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}

	keys := make([]string, len(pks))
	for i, pk := range pks {
		keys[i] = r.Key(pk)
	}
	results, err := r.client.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	for i, fields := range results {
		if len(fields) == 0 {
			continue
		}
		m := new(T)
		if err := r.schema.loadHashFields(fields, reflect.ValueOf(m).Elem()); err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Delete removes the model stored under the given primary key.
// Deleting a missing key is not an error.
func (r *Repository[T]) Delete(ctx context.Context, pk string) error {
	start := time.Now()
	err := r.client.store.Del(ctx, r.Key(pk))
	metrics.ObserveOperation(r.schema.Name(), "delete", start, err)
	return err
}

// Exists reports whether a model is stored under the given primary key.
func (r *Repository[T]) Exists(ctx context.Context, pk string) (bool, error) {
	return r.client.store.Exists(ctx, r.Key(pk))
}

// Expire sets a TTL on the model's key. The index drops the document
// when the key expires.
func (r *Repository[T]) Expire(ctx context.Context, pk string, ttl time.Duration) error {
	return r.client.store.Expire(ctx, r.Key(pk), ttl)
}

// Count returns the number of documents currently indexed for this model.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	return r.client.store.SearchCount(ctx, r.indexName, "*")
}

// Find starts a query. Multiple expressions are joined with And.
func (r *Repository[T]) Find(exprs ...Node) *Finder[T] {
	var root Node
	switch len(exprs) {
	case 0:
		root = nil
	case 1:
		root = exprs[0]
	default:
		root = And(exprs[0], exprs[1:]...)
	}
	return &Finder[T]{repo: r, root: root, limit: DefaultPageSize}
}

// ensurePK reads the model's primary key, generating and writing back a
// UUID when it is empty.
func (r *Repository[T]) ensurePK(rv reflect.Value) string {
	v := r.schema.fieldValueAlloc(rv, r.schema.PrimaryKey())
	if pk := v.String(); pk != "" {
		return pk
	}
	pk := uuid.NewString()
	v.SetString(pk)
	return pk
}

func (r *Repository[T]) encodeJSON(rv reflect.Value) ([]byte, error) {
	doc, err := r.schema.jsonDoc(rv)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// decodeEntry turns one FT.SEARCH result entry into a model.
func (r *Repository[T]) decodeEntry(entry *db.SearchEntry, knnAlias string) (*T, error) {
	m := new(T)
	rv := reflect.ValueOf(m).Elem()

	if r.schema.Storage() == db.StorageJSON {
		raw, ok := entry.Fields[jsonRootPath]
		if !ok {
			return nil, ErrNotFound
		}
		if err := r.schema.loadJSONDoc([]byte(raw), rv); err != nil {
			return nil, err
		}
	} else {
		if err := r.schema.loadHashFields(entry.Fields, rv); err != nil {
			return nil, err
		}
	}

	// A KNN distance alias decodes into a model field of the same name
	// when the model declares one.
	if knnAlias != "" {
		if raw, ok := entry.Fields[knnAlias]; ok {
			if spec, found := r.schema.FieldByPath(knnAlias); found {
				target := r.schema.fieldValueAlloc(rv, spec)
				if err := decodeValue(spec, raw, target); err != nil {
					return nil, err
				}
			}
		}
	}

	return m, nil
}
