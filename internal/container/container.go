package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anime-shed/omr-inspector-go/internal/bubble"
	"github.com/anime-shed/omr-inspector-go/internal/config"
	"github.com/anime-shed/omr-inspector-go/internal/factory"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/observer"
	"github.com/anime-shed/omr-inspector-go/internal/pipeline"
	"github.com/anime-shed/omr-inspector-go/internal/repository"
	"github.com/anime-shed/omr-inspector-go/internal/service"
	"github.com/anime-shed/omr-inspector-go/internal/transport"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
	"github.com/anime-shed/omr-inspector-go/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config      *config.Config
	settings    models.Settings
	factory     *factory.ComponentFactory
	events      *observer.EventPublisher
	eventBus    *observer.EventBus
	metrics     *observer.MetricsObserver
	jobs        repository.JobRepository
	sheets      repository.SheetRepository
	scanner     *pipeline.Scanner
	scanService service.ScanService
	handler     http.Handler
}

// NewContainer creates a new dependency injection container. Scan settings
// come from cfg.SettingsFile layered over the defaults.
func NewContainer(cfg *config.Config) (*Container, error) {
	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan settings: %w", err)
	}
	return NewContainerWithSettings(cfg, settings)
}

// NewContainerWithSettings builds the dependency graph around explicit settings
func NewContainerWithSettings(cfg *config.Config, settings models.Settings) (*Container, error) {
	components := factory.NewComponentFactory(factory.StorageConfig{
		AzureAccount: cfg.AzureStorageAccount,
		AzureKey:     cfg.AzureStorageKey,
		AWSRegion:    cfg.AWSRegion,
		LocalRoot:    cfg.LocalSheetRoot,
	})

	// Progress events fan out to logs, metrics and the pollable bus
	events := observer.NewEventPublisher()
	eventBus := observer.NewEventBus(cfg.EventBuffer)
	metrics := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)
	events.Subscribe(eventBus)

	scanPipeline, err := pipeline.New(
		pipeline.WithClassifier(bubble.NewClassifier(components.ClassifierFactory)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	jobs := repository.NewMemoryJobRepository()
	scanner, err := pipeline.NewScanner(settings,
		pipeline.WithPipeline(scanPipeline),
		pipeline.WithJobRepository(jobs),
		pipeline.WithEvents(events),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start scanner: %w", err)
	}

	// file:// sources are only reachable over the API when a root is configured
	schemes := validation.DefaultSourceSchemes
	if cfg.LocalSheetRoot != "" {
		schemes = append(append([]string(nil), schemes...), "file")
	}
	sheets := repository.NewSheetRepository(components.StorageFactory,
		validation.NewURLValidatorWithOptions(schemes, nil))

	scanService := service.NewScanService(scanner, sheets, eventBus, metrics)
	handler := transport.NewHandler(scanService, cfg)

	return &Container{
		config:      cfg,
		settings:    settings,
		factory:     components,
		events:      events,
		eventBus:    eventBus,
		metrics:     metrics,
		jobs:        jobs,
		sheets:      sheets,
		scanner:     scanner,
		scanService: scanService,
		handler:     handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// ScanService returns the scan service
func (c *Container) ScanService() service.ScanService {
	return c.scanService
}

// Shutdown drains the scanner
func (c *Container) Shutdown(ctx context.Context) {
	c.scanner.Shutdown(ctx)
}
