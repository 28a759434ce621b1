package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/event"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobstore"
	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/store"
)

// tracerName is the instrumentation scope name for store spans.
const tracerName = "github.com/xraph/jobstore/store/mongo"

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

type connState int

const (
	stateClosed connState = iota
	stateOpening
	stateOpen
	stateClosing
)

func (c connState) String() string {
	switch c {
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Store is a MongoDB implementation of store.Store. Unlike a shared-pool
// backend, Store owns its client: Open connects, Close disconnects, and a
// dropped connection is surfaced as a StoreClosed event rather than being
// silently re-established.
type Store struct {
	cfg        jobstore.Config
	logger     *slog.Logger
	extensions *ext.Registry
	tracer     trace.Tracer
	clock      func() time.Time

	mu     sync.Mutex
	state  connState
	gen    uint64 // bumped per Open so monitor events from an old client are ignored
	client *mongod.Client
	coll   *mongod.Collection

	// inflight counts operations on the current client. Each Open gets a
	// fresh group, so a drain abandoned by a timed-out Close never shares
	// one with the next generation.
	inflight *sync.WaitGroup
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithExtensions sets the registry that receives lifecycle and job events.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Store) { s.extensions = r }
}

// WithTracer sets the tracer used for reservation and reclamation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) { s.tracer = t }
}

// WithClock sets the time source used for deadlines and sweeps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New creates a MongoDB store from cfg. It does not connect; call Open.
func New(cfg jobstore.Config, opts ...Option) *Store {
	s := &Store{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the store was built with.
func (s *Store) Config() jobstore.Config { return s.cfg }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Open connects to the server, verifies it with a ping, ensures indexes, and
// emits StoreOpened. Any failure tears the half-built client down, emits
// StoreClosed with the cause, and is returned. Open never retries.
func (s *Store) Open(ctx context.Context) error {
	gen, err := s.begin()
	if err != nil {
		return err
	}

	client, coll, err := s.connect(ctx, gen)
	if err != nil {
		if client != nil {
			if dErr := client.Disconnect(context.WithoutCancel(ctx)); dErr != nil {
				s.logger.Debug("disconnect after failed open", slog.String("error", dErr.Error()))
			}
		}
		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()

		err = fmt.Errorf("jobstore/mongo: open: %w", err)
		s.logger.Error("store open failed", slog.String("error", err.Error()))
		s.extensions.EmitStoreClosed(ctx, err)
		return err
	}

	s.mu.Lock()
	s.client = client
	s.coll = coll
	s.state = stateOpen
	s.mu.Unlock()

	s.logger.Debug("store opened",
		slog.String("database", s.cfg.Database),
		slog.String("collection", s.cfg.Collection),
	)
	s.extensions.EmitStoreOpened(ctx)
	return nil
}

// begin moves a closed store to opening and starts a new generation.
func (s *Store) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateClosed {
		return 0, fmt.Errorf("jobstore/mongo: open: store is %s", s.state)
	}
	s.state = stateOpening
	s.gen++
	s.inflight = new(sync.WaitGroup)
	return s.gen, nil
}

func (s *Store) connect(ctx context.Context, gen uint64) (*mongod.Client, *mongod.Collection, error) {
	uri, err := clientURI(s.cfg.URI, s.cfg.ClientOptions)
	if err != nil {
		return nil, nil, err
	}

	// Retryable reads and writes are off: an operation interrupted by a
	// connection loss fails instead of being replayed on a new connection.
	opts := options.Client().
		ApplyURI(uri).
		SetRetryReads(false).
		SetRetryWrites(false).
		SetServerMonitor(s.serverMonitor(gen))

	client, err := mongod.Connect(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return client, nil, fmt.Errorf("ping: %w", err)
	}

	coll := client.Database(s.cfg.Database).Collection(s.cfg.Collection)
	if err := migrate(ctx, coll); err != nil {
		return client, nil, err
	}
	return client, coll, nil
}

// Close shuts the connection down and emits StoreClosed. With force,
// in-flight operations are abandoned; otherwise Close waits for them to
// drain, falling back to force if ctx ends first. Disconnect errors are
// logged, not returned. Closing a store that is not open is a no-op.
func (s *Store) Close(ctx context.Context, force bool) error {
	s.shutdown(ctx, force, nil)
	return nil
}

func (s *Store) shutdown(ctx context.Context, force bool, cause error) {
	s.mu.Lock()
	if s.state != stateOpen {
		s.mu.Unlock()
		return
	}
	s.state = stateClosing
	client := s.client
	inflight := s.inflight
	s.mu.Unlock()

	if !force {
		force = !s.drain(ctx, inflight)
	}

	dctx := context.WithoutCancel(ctx)
	if force {
		// A cancelled context makes Disconnect close in-use connections
		// instead of waiting for them to be returned.
		var cancel context.CancelFunc
		dctx, cancel = context.WithCancel(dctx)
		cancel()
	}
	if err := client.Disconnect(dctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("store disconnect error", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.state = stateClosed
	s.client = nil
	s.coll = nil
	s.mu.Unlock()

	s.logger.Debug("store closed", slog.Bool("force", force))
	s.extensions.EmitStoreClosed(ctx, cause)
}

// drain waits for the operations counted by inflight. It reports false if
// ctx ended first.
func (s *Store) drain(ctx context.Context, inflight *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		s.logger.Warn("store close timed out, abandoning in-flight operations")
		return false
	}
}

// serverMonitor turns driver topology events into StoreClosed events. The
// driver would otherwise keep reconnecting in the background.
func (s *Store) serverMonitor(gen uint64) *event.ServerMonitor {
	return &event.ServerMonitor{
		ServerHeartbeatFailed: func(evt *event.ServerHeartbeatFailedEvent) {
			cause := evt.Failure
			if cause == nil {
				cause = errors.New("server heartbeat failed")
			}
			s.handleDrop(gen, fmt.Errorf("jobstore/mongo: connection lost: %w", cause))
		},
		TopologyClosed: func(*event.TopologyClosedEvent) {
			s.handleDrop(gen, nil)
		},
	}
}

// handleDrop reacts to an unplanned drop of the current client. With a
// cause the client is torn down forcibly; a clean drop closes normally.
func (s *Store) handleDrop(gen uint64, cause error) {
	s.mu.Lock()
	current := s.state == stateOpen && s.gen == gen
	s.mu.Unlock()
	if !current {
		return
	}

	if cause != nil {
		s.logger.Error("store connection dropped", slog.String("error", cause.Error()))
	} else {
		s.logger.Warn("store connection closed unexpectedly")
	}

	// Monitor callbacks run on driver goroutines and must not block on
	// Disconnect, which waits for those same goroutines.
	go s.shutdown(context.Background(), cause != nil, cause)
}

// acquire returns the open collection and registers an in-flight operation.
// The returned release func must be called when the operation finishes.
func (s *Store) acquire() (*mongod.Collection, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateOpen:
		inflight := s.inflight
		inflight.Add(1)
		return s.coll, inflight.Done, nil
	default:
		return nil, nil, s.unavailable()
	}
}

// unavailable reports why the store cannot serve an operation.
// Caller must hold s.mu.
func (s *Store) unavailable() error {
	if s.state == stateClosing || s.gen > 0 {
		return jobstore.ErrStoreClosed
	}
	return jobstore.ErrStoreNotOpen
}

// Migrate ensures the indexes reservation and reclamation rely on.
func (s *Store) Migrate(ctx context.Context) error {
	coll, release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return migrate(ctx, coll)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateOpen {
		err := s.unavailable()
		s.mu.Unlock()
		return err
	}
	client, inflight := s.client, s.inflight
	inflight.Add(1)
	s.mu.Unlock()
	defer inflight.Done()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("jobstore/mongo: ping: %w", err)
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current time at the millisecond precision the server
// stores, so deadlines read back equal the values that were computed.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func migrate(ctx context.Context, coll *mongod.Collection) error {
	if _, err := coll.Indexes().CreateMany(ctx, indexModels()); err != nil {
		return fmt.Errorf("jobstore/mongo: migrate indexes: %w", err)
	}
	return nil
}

// indexModels returns the index definitions for the job collection.
func indexModels() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Reservation scans by status.
		{Keys: bson.D{{Key: job.FieldStatus, Value: 1}}},
		// Expiry sweep range scan.
		{Keys: bson.D{
			{Key: job.FieldStatus, Value: 1},
			{Key: job.FieldExpires, Value: 1},
		}},
		// Stall sweep range scan.
		{Keys: bson.D{
			{Key: job.FieldStatus, Value: 1},
			{Key: job.FieldStalls, Value: 1},
		}},
	}
}

// clientURI layers pass-through client options onto the connection string
// as query options. Options already in the URI are overridden.
func clientURI(uri string, opts map[string]string) (string, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: malformed uri %q", jobstore.ErrInvalidConfig, uri)
	}
	if len(opts) == 0 {
		return uri, nil
	}

	base, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("%w: uri options: %w", jobstore.ErrInvalidConfig, err)
	}
	for k, v := range opts {
		query.Set(k, v)
	}
	// Query options must follow a "/" after the host list.
	if !strings.Contains(base, "/") {
		base += "/"
	}
	return scheme + "://" + base + "?" + query.Encode(), nil
}
