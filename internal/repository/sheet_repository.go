package repository

import (
	"context"
	"fmt"

	"github.com/anime-shed/omr-inspector-go/internal/storage"
	"github.com/anime-shed/omr-inspector-go/pkg/validation"
)

// FetcherResolver picks the storage backend serving a source URL
type FetcherResolver interface {
	FetcherFor(sourceURL string) (storage.SheetFetcher, error)
}

// sourceSheetRepository implements SheetRepository over the storage backends
type sourceSheetRepository struct {
	resolver  FetcherResolver
	validator *validation.URLValidator
}

// NewSheetRepository creates a sheet repository
func NewSheetRepository(resolver FetcherResolver, validator *validation.URLValidator) SheetRepository {
	if validator == nil {
		validator = validation.NewURLValidator()
	}
	return &sourceSheetRepository{
		resolver:  resolver,
		validator: validator,
	}
}

// FetchSheet retrieves the sheet bytes from its source
func (r *sourceSheetRepository) FetchSheet(ctx context.Context, sourceURL string) ([]byte, error) {
	fetcher, err := r.resolver.FetcherFor(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	data, err := fetcher.FetchSheet(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSheetNotFound, err)
	}
	return data, nil
}

// ValidateSourceURL validates if the provided URL is acceptable
func (r *sourceSheetRepository) ValidateSourceURL(sourceURL string) error {
	return r.validator.ValidateSourceURL(sourceURL)
}
