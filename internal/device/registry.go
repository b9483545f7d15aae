// Package device keeps one client core per device: namespaced storage, an
// event bus, the session store and everything built on top of it.
package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vtu-pay/vtu_pay/internal/api"
	"github.com/vtu-pay/vtu_pay/internal/beneficiary"
	"github.com/vtu-pay/vtu_pay/internal/events"
	"github.com/vtu-pay/vtu_pay/internal/logging"
	"github.com/vtu-pay/vtu_pay/internal/media"
	"github.com/vtu-pay/vtu_pay/internal/prefs"
	"github.com/vtu-pay/vtu_pay/internal/purchase"
	"github.com/vtu-pay/vtu_pay/internal/session"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

// ErrInvalidID is returned for device ids that are not UUIDs.
var ErrInvalidID = errors.New("device id must be a UUID")

// Bundle is everything a single device talks to.
type Bundle struct {
	ID            string
	Storage       storage.Store
	Bus           *events.Bus
	Client        *api.Client
	Session       *session.Store
	Beneficiaries *beneficiary.Cache
	Banner        *prefs.Banner
	Purchases     *purchase.Service

	mu          sync.Mutex
	invalidated *events.Event
	unsubscribe []func()
}

// LastInvalidation returns the most recent forced logout, if any.
func (b *Bundle) LastInvalidation() (events.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.invalidated == nil {
		return events.Event{}, false
	}
	return *b.invalidated, true
}

// AcknowledgeInvalidation forgets the recorded forced logout once a route
// guard has redirected on it.
func (b *Bundle) AcknowledgeInvalidation() {
	b.mu.Lock()
	b.invalidated = nil
	b.mu.Unlock()
}

func (b *Bundle) record(_ context.Context, ev events.Event) {
	if ev.Kind != events.KindSessionInvalidated {
		return
	}
	b.mu.Lock()
	b.invalidated = &ev
	b.mu.Unlock()
}

func (b *Bundle) close() {
	b.Session.Close()
	for _, fn := range b.unsubscribe {
		fn()
	}
}

// Config wires new bundles.
type Config struct {
	BackendURL     string
	RequestTimeout time.Duration
	LogoutTimeout  time.Duration
	Uploader       media.Uploader
	// Relay, when set, forwards each device's events to a shared stream.
	Relay  *events.RedisRelay
	Logger *slog.Logger
}

// Registry lazily creates bundles keyed by device id.
type Registry struct {
	base   storage.Store
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*Bundle
}

// NewRegistry builds a registry over base; each device sees its own
// "device:<id>:" slice of it.
func NewRegistry(base storage.Store, cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{base: base, cfg: cfg, logger: logger, devices: make(map[string]*Bundle)}
}

// Get returns the hydrated bundle for id, creating it on first use.
// TODO: evict bundles that have been idle longer than a configurable TTL.
func (r *Registry) Get(ctx context.Context, id string) (*Bundle, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}
	key := parsed.String()

	r.mu.Lock()
	b, ok := r.devices[key]
	if !ok {
		b = r.build(key)
		r.devices[key] = b
	}
	r.mu.Unlock()

	b.Session.Hydrate(ctx)
	return b, nil
}

func (r *Registry) build(id string) *Bundle {
	logger := r.logger.With(slog.String("device_id", id))
	kv := storage.WithPrefix(r.base, "device:"+id+":")
	bus := events.NewBus()
	client := api.NewClient(api.Options{
		BaseURL: r.cfg.BackendURL,
		Timeout: r.cfg.RequestTimeout,
		Storage: kv,
		Bus:     bus,
		Logger:  logging.Component(logger, "api"),
	})
	store := session.NewStore(session.Options{
		Client:        client,
		Storage:       kv,
		Bus:           bus,
		Uploader:      r.cfg.Uploader,
		Logger:        logging.Component(logger, "session"),
		LogoutTimeout: r.cfg.LogoutTimeout,
	})

	b := &Bundle{
		ID:            id,
		Storage:       kv,
		Bus:           bus,
		Client:        client,
		Session:       store,
		Beneficiaries: beneficiary.NewCache(kv, logging.Component(logger, "beneficiary")),
		Banner:        prefs.NewBanner(kv),
		Purchases:     purchase.NewService(client, store, logging.Component(logger, "purchase")),
	}
	b.unsubscribe = append(b.unsubscribe, bus.Subscribe(b.record))
	if r.cfg.Relay != nil {
		b.unsubscribe = append(b.unsubscribe, bus.Subscribe(r.cfg.Relay.Handler(id)))
	}
	logger.Debug("device bundle created")
	return b
}

// Len reports how many devices are loaded.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Close detaches every bundle from its bus.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.devices {
		b.close()
		delete(r.devices, id)
	}
}
