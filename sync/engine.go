// ABOUTME: Offline-first sync engine owning the durable pending-mutation queue
// ABOUTME: Tracks connectivity, persists queue state, and publishes change events
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/agencysync/backend"
	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/models"
	"github.com/harperreed/agencysync/storage"
)

const (
	DefaultProbeInterval  = 30 * time.Second
	DefaultReconnectDelay = time.Second
)

var (
	// ErrCollectionNotAllowed is returned when an item targets a collection outside the allow-list.
	ErrCollectionNotAllowed = errors.New("collection not allowed for offline sync")
	// ErrInvalidItem wraps validation failures of a pending item.
	ErrInvalidItem = errors.New("invalid pending item")
	// ErrInvalidConfig wraps validation failures of a config update.
	ErrInvalidConfig = errors.New("invalid offline sync config")
	// ErrNotFound is returned when a dead letter does not exist.
	ErrNotFound = errors.New("item not found")
)

// HistoryRecorder receives the result of every completed drain pass.
type HistoryRecorder interface {
	RecordSyncRun(result models.SyncResult) error
}

// Status is a point-in-time view of the engine for UIs.
type Status struct {
	Online      bool               `json:"online"`
	Syncing     bool               `json:"syncing"`
	Pending     int                `json:"pending"`
	DeadLetters int                `json:"deadLetters"`
	LastSync    *time.Time         `json:"lastSync,omitempty"`
	LastResult  *models.SyncResult `json:"lastResult,omitempty"`
	Config      models.Config      `json:"config"`
}

// Engine is the offline sync state for one storage namespace.
// All methods are safe for concurrent use; network calls never run under the lock.
type Engine struct {
	store    *storage.OfflineStore
	api      backend.API
	pub      events.Publisher
	log      zerolog.Logger
	now      func() time.Time
	validate *validator.Validate
	history  HistoryRecorder

	probeInterval  time.Duration
	reconnectDelay time.Duration
	autoSync       bool

	ctx          context.Context
	cancel       context.CancelFunc
	bg           sync.WaitGroup
	reconfigured chan struct{}

	mu         sync.Mutex
	cfg        models.Config
	queue      map[string]models.PendingItem
	dead       []models.DeadLetter
	online     bool
	syncing    bool
	closed     bool
	lastSync   time.Time
	lastResult *models.SyncResult
	lastStamp  int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the event channel. Defaults to a no-op publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now, used for queue timestamps and last sync.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithProbeInterval sets how often Run probes connectivity.
func WithProbeInterval(d time.Duration) Option {
	return func(e *Engine) { e.probeInterval = d }
}

// WithReconnectDelay sets the delay between regaining connectivity and draining.
func WithReconnectDelay(d time.Duration) Option {
	return func(e *Engine) { e.reconnectDelay = d }
}

// WithAutoSync controls whether AddPendingItem starts a drain pass when online.
func WithAutoSync(enabled bool) Option {
	return func(e *Engine) { e.autoSync = enabled }
}

// WithHistory records each completed pass.
func WithHistory(h HistoryRecorder) Option {
	return func(e *Engine) { e.history = h }
}

// NewEngine creates an engine over store talking to api. Call Load or Initialize before use.
func NewEngine(store *storage.OfflineStore, api backend.API, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:          store,
		api:            api,
		pub:            events.NopPublisher{},
		log:            log.Logger.With().Str("component", "offline-sync").Logger(),
		now:            time.Now,
		validate:       validator.New(),
		probeInterval:  DefaultProbeInterval,
		reconnectDelay: DefaultReconnectDelay,
		autoSync:       true,
		ctx:            ctx,
		cancel:         cancel,
		reconfigured:   make(chan struct{}, 1),
		cfg:            models.DefaultConfig(),
		queue:          make(map[string]models.PendingItem),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load restores config, queue, dead letters, and last sync time from storage.
func (e *Engine) Load() error {
	cfg, _, err := e.store.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := e.validate.Struct(cfg); err != nil {
		e.log.Warn().Err(err).Msg("stored config is invalid; using defaults for the bad fields")
		cfg = cfg.Repaired()
	}
	prefix := cfg.StoragePrefix

	items, err := e.store.LoadPending(prefix)
	if err != nil {
		return fmt.Errorf("failed to load pending queue: %w", err)
	}
	dead, err := e.store.LoadDeadLetters(prefix)
	if err != nil {
		return fmt.Errorf("failed to load dead letters: %w", err)
	}
	last, err := e.store.LoadLastSync(prefix)
	if err != nil {
		e.log.Warn().Err(err).Msg("ignoring unreadable last sync time")
		last = time.Time{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.queue = make(map[string]models.PendingItem, len(items))
	for _, item := range items {
		e.queue[item.Key()] = item
		if item.Timestamp > e.lastStamp {
			e.lastStamp = item.Timestamp
		}
	}
	e.dead = dead
	e.lastSync = last

	e.log.Debug().Int("pending", len(e.queue)).Strs("collections", cfg.Collections).Msg("offline state loaded")
	return nil
}

// Initialize loads persisted state and performs the first connectivity probe.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.Load(); err != nil {
		return err
	}
	e.CheckConnection(ctx)
	return nil
}

// Close stops background passes started by the engine and waits for them.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.bg.Wait()
}

// Wait blocks until background passes started so far have finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Pending returns the queue ordered oldest first.
func (e *Engine) Pending() []models.PendingItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedLocked()
}

func (e *Engine) Config() models.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Apply(models.ConfigUpdate{})
}

// LastSyncTime is zero until a pass completes.
func (e *Engine) LastSyncTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Online:      e.online,
		Syncing:     e.syncing,
		Pending:     len(e.queue),
		DeadLetters: len(e.dead),
		Config:      e.cfg.Apply(models.ConfigUpdate{}),
	}
	if !e.lastSync.IsZero() {
		last := e.lastSync
		st.LastSync = &last
	}
	if e.lastResult != nil {
		r := *e.lastResult
		st.LastResult = &r
	}
	return st
}

// Configure merges u into the config and persists it. Queued items are not
// re-checked against a changed allow-list.
func (e *Engine) Configure(u models.ConfigUpdate) error {
	e.mu.Lock()

	next := e.cfg.Apply(u)
	if err := e.validate.Struct(next); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := e.store.SaveConfig(next); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to save config: %w", err)
	}

	prev := e.cfg
	e.cfg = next

	// Queue and history follow the namespace so a restart finds them
	var err error
	if next.StoragePrefix != prev.StoragePrefix {
		err = e.persistAllLocked()
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}

	select {
	case e.reconfigured <- struct{}{}:
	default:
	}

	e.log.Info().
		Strs("collections", next.Collections).
		Dur("sync_interval", next.SyncInterval).
		Int("max_retries", next.MaxRetries).
		Str("prefix", next.StoragePrefix).
		Msg("offline sync configured")
	return nil
}

// AddPendingItem queues a mutation, replacing any entry with the same (id, collection).
// It returns ErrCollectionNotAllowed without touching the queue when the collection is not allowed.
func (e *Engine) AddPendingItem(item models.PendingItem) error {
	e.mu.Lock()
	count, shouldSync, err := e.addLocked(item)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.pub.Publish(events.PendingChanged(count))
	if shouldSync {
		e.goSync(0)
	}
	return nil
}

func (e *Engine) addLocked(item models.PendingItem) (count int, shouldSync bool, err error) {
	if !e.cfg.Allows(item.Collection) {
		e.log.Warn().
			Str("collection", item.Collection).
			Str("id", item.ID).
			Msg("collection not configured for offline sync; item not queued")
		return 0, false, fmt.Errorf("%w: %s", ErrCollectionNotAllowed, item.Collection)
	}

	if item.Operation == models.OperationDelete {
		item.Data = nil
	}
	if err := e.validate.Struct(item); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	item.Timestamp = e.nextStampLocked()
	item.Retries = 0
	e.queue[item.Key()] = item

	if err := e.persistQueueLocked(); err != nil {
		return 0, false, err
	}

	e.log.Debug().
		Str("collection", item.Collection).
		Str("id", item.ID).
		Str("operation", string(item.Operation)).
		Msg("queued pending item")

	return len(e.queue), e.online && !e.syncing && e.autoSync, nil
}

// RemovePendingItem removes an entry and reports whether it existed.
func (e *Engine) RemovePendingItem(id, collection string) (bool, error) {
	e.mu.Lock()
	key := models.ItemKey(id, collection)
	if _, ok := e.queue[key]; !ok {
		e.mu.Unlock()
		return false, nil
	}
	delete(e.queue, key)
	err := e.persistQueueLocked()
	count := len(e.queue)
	e.mu.Unlock()

	e.pub.Publish(events.PendingChanged(count))
	return true, err
}

// nextStampLocked returns a strictly increasing epoch-ms timestamp so
// items added within the same millisecond keep their insertion order.
func (e *Engine) nextStampLocked() int64 {
	ts := e.now().UnixMilli()
	if ts <= e.lastStamp {
		ts = e.lastStamp + 1
	}
	e.lastStamp = ts
	return ts
}

func (e *Engine) sortedLocked() []models.PendingItem {
	items := make([]models.PendingItem, 0, len(e.queue))
	for _, item := range e.queue {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp < items[j].Timestamp
		}
		return items[i].Key() < items[j].Key()
	})
	return items
}

func (e *Engine) persistQueueLocked() error {
	if err := e.store.SavePending(e.cfg.StoragePrefix, e.sortedLocked()); err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}
	return nil
}

func (e *Engine) persistAllLocked() error {
	prefix := e.cfg.StoragePrefix
	if err := e.persistQueueLocked(); err != nil {
		return err
	}
	if err := e.store.SaveDeadLetters(prefix, e.dead); err != nil {
		return fmt.Errorf("failed to persist dead letters: %w", err)
	}
	if !e.lastSync.IsZero() {
		if err := e.store.SaveLastSync(prefix, e.lastSync); err != nil {
			return fmt.Errorf("failed to persist last sync: %w", err)
		}
	}
	return nil
}
