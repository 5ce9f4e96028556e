package repository

import "errors"

var (
	// ErrInvalidSourceURL indicates an unusable sheet source
	ErrInvalidSourceURL = errors.New("invalid sheet source URL")

	// ErrSheetNotFound indicates the sheet could not be retrieved
	ErrSheetNotFound = errors.New("sheet not found")

	// ErrJobNotFound indicates the scan job does not exist
	ErrJobNotFound = errors.New("scan job not found")

	// ErrRepositoryUnavailable indicates the repository is unavailable
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
