package app

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/edgevision/triage-server/internal/api"
	"github.com/edgevision/triage-server/internal/config"
	"github.com/edgevision/triage-server/internal/coordinator"
	"github.com/edgevision/triage-server/internal/importer"
	"github.com/edgevision/triage-server/internal/ingest"
	"github.com/edgevision/triage-server/internal/labelstudio"
	"github.com/edgevision/triage-server/internal/objstore"
	"github.com/edgevision/triage-server/internal/retrain"
	"github.com/edgevision/triage-server/internal/store"
	"github.com/edgevision/triage-server/internal/triage"
)

const (
	defaultDataDir        = "./data"
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 30 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 60 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	recordStoreFile = "records.db"
)

// TriageAppOptions is a function that configures the triage app builder
type TriageAppOptions func(*triageAppConfig) error

// triageAppConfig builds a TriageApp using the builder pattern. It
// supports dependency injection for testing while providing sensible
// defaults for production.
type triageAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	objects objstore.Store
	tool    labelstudio.Client
	session retrain.SessionProvider

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Data directory for local state
	dataDir string
}

func baseConfig(opts ...TriageAppOptions) (*triageAppConfig, error) {
	cfg := &triageAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
		dataDir:        defaultDataDir,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewTriageApp creates the application with all its components wired.
func NewTriageApp(ctx context.Context, opts ...TriageAppOptions) (*TriageApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.config.DataDir != "" {
		cfg.dataDir = cfg.config.DataDir
	}

	if err := os.MkdirAll(cfg.dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	records, err := store.Open(filepath.Join(cfg.dataDir, recordStoreFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			_ = records.Close()
		}
	}()

	if cfg.objects == nil {
		cfg.objects, err = objstore.New(objstore.Options{
			Endpoint:  cfg.config.ObjectStore.Endpoint,
			AccessKey: cfg.config.ObjectStore.AccessKey,
			SecretKey: cfg.config.ObjectStore.SecretKey,
			Bucket:    cfg.config.ObjectStore.Bucket,
			UseSSL:    cfg.config.ObjectStore.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create object store client: %w", err)
		}
	}

	if cfg.tool == nil {
		cfg.tool = labelstudio.NewClient(labelstudio.Options{
			BaseURL:     cfg.config.LabelStudio.BaseURL,
			APIKey:      cfg.config.LabelStudio.APIKey,
			ProjectID:   cfg.config.LabelStudio.ProjectID,
			StorageType: cfg.config.LabelStudio.StorageType,
			StorageID:   cfg.config.LabelStudio.StorageID,
		})
	}

	if cfg.session == nil {
		cfg.session = retrain.NewSessionProvider(cfg.config.Retraining.PresignEndpoint)
	}

	ingestSvc := ingest.NewService(cfg.objects, records, cfg.config.Upload.MaxImageSizeMB)
	triageSvc := triage.NewService(cfg.objects)
	importMgr := importer.NewManager(cfg.objects, records, cfg.tool)
	trigger := retrain.NewTrigger(cfg.objects, records, cfg.session,
		cfg.config.Retraining.Threshold,
		cfg.config.Retraining.NotebookPath,
		cfg.config.Retraining.KernelName,
		cfg.config.Retraining.ExecutionTimeout)

	jobCoordinator := coordinator.New(
		coordinator.NewStorageSyncJob(cfg.tool, records, cfg.config.Jobs.GetSyncInterval()),
		coordinator.NewImportJob(importMgr, cfg.config.Jobs.GetImportInterval()),
		coordinator.NewRetrainCheckJob(trigger, cfg.config.Jobs.GetRetrainInterval()),
	)

	httpServer := buildHTTPServer(cfg, ingestSvc, triageSvc, &jobService{
		trigger: trigger,
		records: records,
	})

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &TriageApp{
		config: cfg.config,
		components: &AppComponents{
			Coordinator: jobCoordinator,
			Records:     records,
		},
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) TriageAppOptions {
	return func(cfg *triageAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) TriageAppOptions {
	return func(cfg *triageAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host, port := parts[0], parts[1]

		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}
		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) TriageAppOptions {
	return func(cfg *triageAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithDataDirectory sets the directory holding local state
func WithDataDirectory(dir string) TriageAppOptions {
	return func(cfg *triageAppConfig) error {
		cfg.dataDir = dir
		return nil
	}
}

// WithObjectStore allows injecting a custom object store (for testing)
func WithObjectStore(s objstore.Store) TriageAppOptions {
	return func(cfg *triageAppConfig) error {
		cfg.objects = s
		return nil
	}
}

// WithAnnotationClient allows injecting a custom annotation-tool client (for testing)
func WithAnnotationClient(c labelstudio.Client) TriageAppOptions {
	return func(cfg *triageAppConfig) error {
		cfg.tool = c
		return nil
	}
}

// WithSessionProvider allows injecting a custom notebook session provider (for testing)
func WithSessionProvider(p retrain.SessionProvider) TriageAppOptions {
	return func(cfg *triageAppConfig) error {
		cfg.session = p
		return nil
	}
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	cfg *triageAppConfig,
	ingestSvc *ingest.Service,
	triageSvc *triage.Service,
	jobs *jobService,
) *http.Server {
	// Use default middlewares if not provided
	if cfg.middlewares == nil {
		cfg.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(cfg.requestTimeout),
			api.LoggingMiddleware,
			api.CORSMiddleware,
		}
	}

	router := api.NewServer(ingestSvc, triageSvc, jobs,
		api.WithMiddlewares(cfg.middlewares...))

	return &http.Server{
		Addr:         cfg.address,
		Handler:      router,
		ReadTimeout:  cfg.readTimeout,
		WriteTimeout: cfg.writeTimeout,
		IdleTimeout:  cfg.idleTimeout,
	}
}
