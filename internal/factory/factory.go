package factory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/anime-shed/omr-inspector-go/internal/bubble"
	"github.com/anime-shed/omr-inspector-go/internal/storage"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// StorageType represents different types of sheet sources
type StorageType string

const (
	// HTTPStorage for http and https URLs
	HTTPStorage StorageType = "http"
	// AzureStorage for azblob://container/blob
	AzureStorage StorageType = "azure"
	// S3Storage for s3://bucket/key
	S3Storage StorageType = "s3"
	// LocalStorage for file:// URLs and plain paths
	LocalStorage StorageType = "local"
)

// StorageTypeFor maps a source URL onto its storage type
func StorageTypeFor(sourceURL string) (StorageType, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("invalid source URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return HTTPStorage, nil
	case "azblob":
		return AzureStorage, nil
	case "s3":
		return S3Storage, nil
	case "file", "":
		return LocalStorage, nil
	default:
		return "", fmt.Errorf("unsupported source scheme: %s", parsed.Scheme)
	}
}

// StorageConfig carries the credentials of the remote backends
type StorageConfig struct {
	AzureAccount string
	AzureKey     string
	AWSRegion    string
	LocalRoot    string
}

// StorageFactory creates sheet fetchers
type StorageFactory interface {
	CreateStorage(storageType StorageType) (storage.SheetFetcher, error)
	FetcherFor(sourceURL string) (storage.SheetFetcher, error)
}

// storageFactory implements StorageFactory. Backends are built on first use
// and reused afterwards.
type storageFactory struct {
	cfg StorageConfig

	mu       sync.Mutex
	fetchers map[StorageType]storage.SheetFetcher
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg StorageConfig) StorageFactory {
	return &storageFactory{
		cfg:      cfg,
		fetchers: make(map[StorageType]storage.SheetFetcher),
	}
}

// CreateStorage creates a storage implementation based on the specified type
func (f *storageFactory) CreateStorage(storageType StorageType) (storage.SheetFetcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fetcher, ok := f.fetchers[storageType]; ok {
		return fetcher, nil
	}

	var (
		fetcher storage.SheetFetcher
		err     error
	)
	switch storageType {
	case HTTPStorage:
		fetcher = storage.NewHTTPSheetFetcher()
	case AzureStorage:
		if f.cfg.AzureAccount == "" || f.cfg.AzureKey == "" {
			return nil, fmt.Errorf("azure storage is not configured")
		}
		fetcher, err = storage.NewAzureStorage(f.cfg.AzureAccount, f.cfg.AzureKey)
	case S3Storage:
		fetcher, err = storage.NewS3Storage(context.Background(), f.cfg.AWSRegion)
	case LocalStorage:
		fetcher = storage.NewLocalStorage(f.cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", storageType, err)
	}

	f.fetchers[storageType] = fetcher
	return fetcher, nil
}

// FetcherFor returns the fetcher serving a source URL
func (f *storageFactory) FetcherFor(sourceURL string) (storage.SheetFetcher, error) {
	storageType, err := StorageTypeFor(sourceURL)
	if err != nil {
		return nil, err
	}
	return f.CreateStorage(storageType)
}

// ClassifierFactory builds bubble strategies. Model files are read once per
// path and cached.
type ClassifierFactory struct {
	mu      sync.RWMutex
	weights map[string]models.ModelWeights
	load    func(path string) (models.ModelWeights, error)
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory() *ClassifierFactory {
	return &ClassifierFactory{
		weights: make(map[string]models.ModelWeights),
		load:    bubble.LoadModelWeights,
	}
}

// CreateStrategy creates the strategy the settings ask for
func (f *ClassifierFactory) CreateStrategy(settings models.Settings) (bubble.Strategy, error) {
	weights := settings.Model
	if settings.ModelPath != "" {
		w, err := f.modelWeights(settings.ModelPath)
		if err != nil {
			return nil, err
		}
		weights = w
	}
	if weights == (models.ModelWeights{}) {
		weights = models.DefaultModelWeights()
	}
	return bubble.NewStrategy(settings, weights)
}

func (f *ClassifierFactory) modelWeights(path string) (models.ModelWeights, error) {
	f.mu.RLock()
	w, ok := f.weights[path]
	f.mu.RUnlock()
	if ok {
		return w, nil
	}

	w, err := f.load(path)
	if err != nil {
		return models.ModelWeights{}, err
	}
	f.mu.Lock()
	f.weights[path] = w
	f.mu.Unlock()
	return w, nil
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	StorageFactory    StorageFactory
	ClassifierFactory *ClassifierFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg StorageConfig) *ComponentFactory {
	return &ComponentFactory{
		StorageFactory:    NewStorageFactory(cfg),
		ClassifierFactory: NewClassifierFactory(),
	}
}
