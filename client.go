package redmap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/redmap/internal/config"
	"github.com/kailas-cloud/redmap/internal/db"
	"github.com/kailas-cloud/redmap/internal/db/redis"
)

const (
	defaultAddr      = "localhost:6379"
	defaultKeyPrefix = "redmap"
	defaultReadiness = 10 * time.Second
)

// Client owns the Redis connection shared by all repositories.
type Client struct {
	store  db.Store
	prefix string
	log    *zap.Logger
}

type clientOptions struct {
	addrs     []string
	username  string
	password  string
	db        int
	prefix    string
	log       *zap.Logger
	readiness time.Duration
	store     db.Store
}

// Option configures a Client.
type Option func(*clientOptions)

// WithAddrs sets the Redis server addresses.
func WithAddrs(addrs ...string) Option {
	return func(o *clientOptions) { o.addrs = addrs }
}

// WithAuth sets Redis credentials.
func WithAuth(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = password
	}
}

// WithSelectDB selects a logical Redis database.
func WithSelectDB(n int) Option {
	return func(o *clientOptions) { o.db = n }
}

// WithKeyPrefix sets the prefix under which all model keys and index names live.
func WithKeyPrefix(prefix string) Option {
	return func(o *clientOptions) { o.prefix = prefix }
}

// WithLogger sets the logger used by the client and its migrator.
func WithLogger(log *zap.Logger) Option {
	return func(o *clientOptions) { o.log = log }
}

// WithReadinessTimeout bounds how long New waits for the server to accept pings.
func WithReadinessTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.readiness = d }
}

// withStore injects a pre-built store. Test seam.
func withStore(store db.Store) Option {
	return func(o *clientOptions) { o.store = store }
}

// New connects to Redis and waits for the server to become ready.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := clientOptions{
		addrs:     []string{defaultAddr},
		prefix:    defaultKeyPrefix,
		log:       zap.NewNop(),
		readiness: defaultReadiness,
	}
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		s, err := redis.NewStore(redis.Config{
			Addrs:    o.addrs,
			Username: o.username,
			Password: o.password,
			DB:       o.db,
		})
		if err != nil {
			return nil, err
		}
		store = s
	}

	if err := store.WaitForReady(ctx, o.readiness); err != nil {
		store.Close()
		return nil, err
	}

	return &Client{store: store, prefix: o.prefix, log: o.log}, nil
}

// NewFromConfig builds a Client from a loaded configuration.
func NewFromConfig(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	base := []Option{
		WithAddrs(cfg.Database.Addrs...),
		WithAuth(cfg.Database.Username, cfg.Database.Password),
		WithSelectDB(cfg.Database.DB),
		WithKeyPrefix(cfg.Storage.KeyPrefix),
		WithReadinessTimeout(time.Duration(cfg.Database.ReadinessTimeout) * time.Second),
	}
	return New(ctx, append(base, opts...)...)
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.store.Close()
}

// KeyPrefix returns the prefix under which this client stores model keys.
func (c *Client) KeyPrefix() string {
	return c.prefix
}

// Migrator returns an index migrator bound to this client's connection.
func (c *Client) Migrator() *Migrator {
	return &Migrator{store: c.store, log: c.log}
}
