// Package sessions keeps login sessions in a host database, ordered by
// creation time. It is the storage client the login flow uses to find the
// session to resume.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beyondbrewing/brewery-idb/host"
	"github.com/beyondbrewing/brewery-idb/idb"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	"github.com/google/uuid"
)

// Sentinel errors for the sessions package.
var (
	ErrInvalidConfig  = errors.New("sessions: invalid config")
	ErrInvalidSession = errors.New("sessions: invalid session")
	ErrNotFound       = errors.New("sessions: session not found")
)

// Session is one logged-in account on one homeserver.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	HomeServer string    `json:"homeserver"`
	DeviceID   string    `json:"device_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key is the store key of s: its creation time in milliseconds.
func (s Session) Key() []byte {
	return timeKey(s.CreatedAt)
}

// timeKey clamps times before the epoch to zero, the lowest key.
func timeKey(t time.Time) []byte {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return []byte(idb.EncodeUint64(uint64(ms)))
}

// Config holds all settings for a Store.
type Config struct {
	// Database is the host database the sessions live in.
	Database string

	// StoreName is the object store inside Database.
	StoreName string

	// Version is the schema version Database is opened at.
	Version uint64

	// Clock stamps sessions added without a creation time.
	Clock func() time.Time

	// Logger is the structured logger. Falls back to logger.Default() if nil.
	Logger logger.Logger
}

// Option is a functional option for configuring a Store.
type Option func(*Config)

// DefaultConfig returns a Config with the defaults the CLI uses.
func DefaultConfig() *Config {
	return &Config{
		Database:  "brewery-sessions",
		StoreName: "sessions",
		Version:   1,
		Clock:     time.Now,
	}
}

func (c *Config) validate() error {
	if c.Database == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidConfig)
	}
	if c.StoreName == "" {
		return fmt.Errorf("%w: store name must not be empty", ErrInvalidConfig)
	}
	if c.Version == 0 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidConfig)
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(c *Config) { c.Database = name }
}

// WithStoreName sets the object store name.
func WithStoreName(name string) Option {
	return func(c *Config) { c.StoreName = name }
}

// WithVersion sets the schema version.
func WithVersion(v uint64) Option {
	return func(c *Config) { c.Version = v }
}

// WithClock sets the clock used to stamp new sessions.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) { c.Clock = clock }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Store reads and writes sessions. Its methods may be called from any
// goroutine or from a coroutine of the Env's loop.
type Store struct {
	cfg    *Config
	env    *idb.Env
	db     *host.Database
	codec  idb.JSON[Session]
	logger logger.Logger
}

// Open opens (creating if needed) the session database.
func Open(ctx context.Context, env *idb.Env, opts ...Option) (*Store, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "sessions")

	s := &Store{cfg: cfg, env: env, logger: log}
	err := env.Run(ctx, func(ctx context.Context) error {
		d, err := env.OpenDatabase(cfg.Database, cfg.Version, s.upgrade).Await(ctx)
		if err != nil {
			return err
		}
		s.db = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessions: open %q: %w", cfg.Database, err)
	}
	log.Info("session store opened", "db", cfg.Database, "version", cfg.Version)
	return s, nil
}

func (s *Store) upgrade(d *host.Database, _ *host.Transaction, oldVersion, _ uint64) error {
	if oldVersion == 0 {
		_, err := d.CreateObjectStore(s.cfg.StoreName)
		return err
	}
	return nil
}

// Add stores sess. A missing ID gets a fresh UUIDv7 and a zero CreatedAt the
// current time; CreatedAt is kept at millisecond precision. Two sessions
// created in the same millisecond conflict.
func (s *Store) Add(ctx context.Context, sess Session) (Session, error) {
	if sess.UserID == "" {
		return Session{}, fmt.Errorf("%w: user id must not be empty", ErrInvalidSession)
	}
	if sess.ID == "" {
		sess.ID = uuid.Must(uuid.NewV7()).String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.cfg.Clock()
	}
	if sess.CreatedAt.Before(time.Unix(0, 0)) {
		return Session{}, fmt.Errorf("%w: created before the epoch", ErrInvalidSession)
	}
	sess.CreatedAt = sess.CreatedAt.UTC().Truncate(time.Millisecond)

	value, err := s.codec.Encode(sess)
	if err != nil {
		return Session{}, fmt.Errorf("sessions: encode: %w", err)
	}

	err = s.env.Run(ctx, func(ctx context.Context) error {
		txn, store, err := s.begin(host.ReadWrite)
		if err != nil {
			return err
		}
		done := s.env.Transaction(txn)
		if _, err := store.Add(sess.Key(), value); err != nil {
			return s.opError("add", err)
		}
		_, err = done.Await(ctx)
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("sessions: add %s: %w", sess.ID, err)
	}
	s.logger.Debug("session added", "id", sess.ID, "user", sess.UserID)
	return sess, nil
}

// Get returns the session with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	return s.find(ctx, func(sess Session) bool { return sess.ID == id }, idb.WithMode(host.ReadOnly))
}

// Latest returns the most recently created session.
func (s *Store) Latest(ctx context.Context) (Session, error) {
	newestFirst := idb.WithCursor(func(store *host.ObjectStore) (*host.Request, error) {
		return store.OpenCursor(nil, host.Prev)
	})
	return s.find(ctx, nil, newestFirst, idb.WithMode(host.ReadOnly))
}

func (s *Store) find(ctx context.Context, matches func(Session) bool, opts ...idb.QueryOption) (Session, error) {
	var sess Session
	err := s.env.Run(ctx, func(ctx context.Context) error {
		var err error
		sess, err = idb.FindFirst(s.env, s.db, s.cfg.StoreName, idb.Codec[Session](s.codec), matches, opts...).Await(ctx)
		return err
	})
	if errors.Is(err, idb.ErrNotFound) {
		return Session{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return sess, err
}

// List returns up to limit sessions, oldest first. A limit of zero or less
// returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	return s.selectRange(ctx, limit)
}

// Since returns the sessions created at or after t, oldest first.
func (s *Store) Since(ctx context.Context, t time.Time) ([]Session, error) {
	return s.selectRange(ctx, 0, idb.WithCursor(func(store *host.ObjectStore) (*host.Request, error) {
		return store.OpenCursor(host.LowerBound(timeKey(t.Truncate(time.Millisecond)), false), host.Next)
	}))
}

func (s *Store) selectRange(ctx context.Context, limit int, opts ...idb.QueryOption) ([]Session, error) {
	var isDone func([]Session) bool
	if limit > 0 {
		isDone = func(found []Session) bool { return len(found) >= limit }
	}
	var out []Session
	err := s.env.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = idb.SelectRange(s.env, s.db, s.cfg.StoreName, idb.Codec[Session](s.codec), isDone, opts...).Await(ctx)
		return err
	})
	return out, err
}

// Delete removes the session with the given ID. The lookup and the delete
// run in one transaction.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.env.Run(ctx, func(ctx context.Context) error {
		txn, store, err := s.begin(host.ReadWrite)
		if err != nil {
			return err
		}
		done := s.env.Transaction(txn)

		sess, err := idb.FindFirst(s.env, s.db, s.cfg.StoreName, idb.Codec[Session](s.codec),
			func(sess Session) bool { return sess.ID == id }, idb.WithTransaction(txn)).Await(ctx)
		if err != nil {
			return err
		}
		if _, err := store.Delete(sess.Key()); err != nil {
			return s.opError("delete", err)
		}
		_, err = done.Await(ctx)
		return err
	})
	switch {
	case errors.Is(err, idb.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil:
		return fmt.Errorf("sessions: delete %s: %w", id, err)
	}
	s.logger.Debug("session deleted", "id", id)
	return nil
}

func (s *Store) begin(mode host.Mode) (*host.Transaction, *host.ObjectStore, error) {
	txn, err := s.db.Transaction([]string{s.cfg.StoreName}, mode)
	if err != nil {
		return nil, nil, s.opError("transaction", err)
	}
	store, err := txn.ObjectStore(s.cfg.StoreName)
	if err != nil {
		return nil, nil, s.opError("objectStore", err)
	}
	return txn, store, nil
}

func (s *Store) opError(op string, err error) error {
	return &idb.OperationError{Database: s.cfg.Database, Store: s.cfg.StoreName, Op: op, Err: err}
}

// Close closes the session database. Methods called after Close fail.
func (s *Store) Close(ctx context.Context) error {
	return s.env.Run(ctx, func(context.Context) error {
		s.db.Close()
		return nil
	})
}
