// Package localmesh provides a high-level façade over the framework
// subsystems (state store, REST-style router, AI providers and the
// collaboration server) enabling rapid construction of local-first
// multi-agent applications. Most applications interact with this package by:
//  1. Creating a LocalMesh via New() (optionally overriding the default in-memory storage)
//  2. Serving Handler() over HTTP (WebSocket endpoint, admin routes, custom routes)
//  3. Connecting agents with collab.Dial and sharing state through Store()
//
// The façade delegates collaboration to collab.Server while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a durable storage
// adapter and a structured logger.
package localmesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hupe1980/localmesh/ai"
	"github.com/hupe1980/localmesh/ai/anthropic"
	"github.com/hupe1980/localmesh/ai/openai"
	"github.com/hupe1980/localmesh/api"
	"github.com/hupe1980/localmesh/collab"
	"github.com/hupe1980/localmesh/config"
	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/storage"
	"github.com/hupe1980/localmesh/storage/file"
	"github.com/hupe1980/localmesh/storage/redis"
	"github.com/hupe1980/localmesh/store"
)

// Options configures the LocalMesh instance.
type Options struct {
	// Storage backs the shared state store (defaults to in-memory if not
	// provided).
	Storage storage.Adapter

	// Provider powers the built-in assistant. Nil leaves Assistant unset.
	Provider ai.Provider

	// AssistantOptions tune the assistant when a Provider is set.
	AssistantOptions []func(o *ai.AssistantOptions)

	// CollabOptions tune the collaboration server (timeouts, buffers,
	// hooks).
	CollabOptions []func(o *collab.ServerOptions)

	// CollabPath is where Handler mounts the WebSocket endpoint.
	CollabPath string

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// WithStorage overrides the storage adapter backing the state store.
func WithStorage(adapter storage.Adapter) func(o *Options) {
	return func(o *Options) { o.Storage = adapter }
}

// WithProvider enables the built-in assistant on the given model provider.
func WithProvider(provider ai.Provider) func(o *Options) {
	return func(o *Options) { o.Provider = provider }
}

// WithAssistantOptions forwards options to the assistant constructor.
func WithAssistantOptions(optFns ...func(o *ai.AssistantOptions)) func(o *Options) {
	return func(o *Options) { o.AssistantOptions = append(o.AssistantOptions, optFns...) }
}

// WithCollabOptions forwards options to the collaboration server
// constructor.
func WithCollabOptions(optFns ...func(o *collab.ServerOptions)) func(o *Options) {
	return func(o *Options) { o.CollabOptions = append(o.CollabOptions, optFns...) }
}

// WithCollabPath changes the WebSocket mount path (default "/ws").
func WithCollabPath(path string) func(o *Options) {
	return func(o *Options) { o.CollabPath = path }
}

// WithLogger sets the logger shared across all subsystems.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// LocalMesh is the high-level façade aggregating the framework subsystems.
type LocalMesh struct {
	opts      Options
	logger    logging.Logger
	adapter   storage.Adapter
	store     *store.Store
	router    *api.Router
	collab    *collab.Server
	assistant *ai.Assistant
	handler   http.Handler

	closeOnce sync.Once
	closeErr  error
}

// New creates a new LocalMesh instance with optional overrides. The state
// store, REST router and collaboration server are always constructed; the
// assistant only when a Provider is supplied. Callers must Close the mesh
// to release the collaboration server's background work.
func New(optFns ...func(o *Options)) *LocalMesh {
	opts := Options{
		Storage:    storage.NewInMemoryAdapter(),
		CollabPath: "/ws",
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Storage == nil {
		opts.Storage = storage.NewInMemoryAdapter()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.CollabPath == "" {
		opts.CollabPath = "/ws"
	}

	st := store.New(store.WithAdapter(opts.Storage), store.WithLogger(opts.Logger))

	collabFns := append([]func(o *collab.ServerOptions){func(o *collab.ServerOptions) {
		o.Logger = opts.Logger
	}}, opts.CollabOptions...)
	srv := collab.NewServer(collabFns...)

	router := api.NewRouter()
	router.Use(api.Recovery(opts.Logger))
	router.Use(api.Logging(opts.Logger))
	srv.Mount(router)

	var assistant *ai.Assistant
	if opts.Provider != nil {
		assistant = ai.NewAssistant(opts.Provider, opts.AssistantOptions...)
	}

	mux := http.NewServeMux()
	mux.Handle(opts.CollabPath, srv)
	mux.Handle("/", router)

	return &LocalMesh{
		opts:      opts,
		logger:    opts.Logger,
		adapter:   opts.Storage,
		store:     st,
		router:    router,
		collab:    srv,
		assistant: assistant,
		handler:   mux,
	}
}

// NewFromConfig builds a mesh from a loaded configuration: the storage
// adapter by driver name, the provider by name (wrapped in a retryer) and
// a slog-backed logger. The state store is hydrated from the adapter
// before returning.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*LocalMesh, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger := logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, false)

	adapter, err := newAdapter(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(cfg.AI, logger)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}

	m := New(
		WithLogger(logger),
		WithStorage(adapter),
		WithProvider(provider),
		WithCollabPath(cfg.Collab.Path),
		WithCollabOptions(func(o *collab.ServerOptions) {
			// Zero knobs keep the server defaults.
			if d := cfg.Collab.TaskTimeout(); d > 0 {
				o.TaskTimeout = d
			}
			if d := cfg.Collab.IdleSessionTTL(); d > 0 {
				o.IdleSessionTTL = d
			}
			if d := cfg.Collab.SweepInterval(); d > 0 {
				o.SweepInterval = d
			}
			if cfg.Collab.SendBuffer > 0 {
				o.SendBuffer = cfg.Collab.SendBuffer
			}
		}),
	)

	if err := m.store.Load(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("hydrate store: %w", err)
	}

	return m, nil
}

func newAdapter(ctx context.Context, cfg config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return storage.NewInMemoryAdapter(), nil
	case config.DriverFile:
		return file.NewAdapter(cfg.Path)
	case config.DriverRedis:
		return redis.NewAdapter(ctx, cfg.URL, func(o *redis.Options) {
			if cfg.KeyPrefix != "" {
				o.Prefix = cfg.KeyPrefix
			}
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newProvider(cfg config.AIConfig, logger logging.Logger) (ai.Provider, error) {
	var base ai.Provider
	switch cfg.Provider {
	case "":
		return nil, nil
	case config.ProviderOpenAI:
		base = openai.NewProvider(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		})
	case config.ProviderAnthropic:
		base = anthropic.NewProvider(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		})
	case config.ProviderMock:
		base = ai.NewMockProvider("localmesh-mock", config.ProviderMock)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}

	return ai.NewRetryer(base, func(o *ai.RetryerOptions) {
		o.MaxAttempts = cfg.MaxAttempts
		o.Delay = cfg.RetryDelay()
		o.Logger = logger
	}), nil
}

// Store returns the shared state store. When the mesh was built with New
// and a persistent adapter, call Load on it to hydrate previous state.
func (m *LocalMesh) Store() *store.Store { return m.store }

// Storage returns the storage adapter backing the state store.
func (m *LocalMesh) Storage() storage.Adapter { return m.adapter }

// Router returns the REST router. Application routes can be registered at
// any time; the collaboration admin endpoints are already mounted.
func (m *LocalMesh) Router() *api.Router { return m.router }

// Collab returns the collaboration server.
func (m *LocalMesh) Collab() *collab.Server { return m.collab }

// Assistant returns the built-in assistant, or nil when no provider is
// configured.
func (m *LocalMesh) Assistant() *ai.Assistant { return m.assistant }

// Logger returns the logger shared across subsystems.
func (m *LocalMesh) Logger() logging.Logger { return m.logger }

// Handler returns the combined HTTP handler: the WebSocket endpoint on the
// collab path, the REST router everywhere else.
func (m *LocalMesh) Handler() http.Handler { return m.handler }

// ServeHTTP implements http.Handler by delegating to Handler.
func (m *LocalMesh) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

// Close shuts down the collaboration server, the state store and the
// storage adapter. Close is idempotent and returns the first errors
// encountered, joined.
func (m *LocalMesh) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		if err := m.collab.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.store.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.adapter.Close(); err != nil {
			errs = append(errs, err)
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
