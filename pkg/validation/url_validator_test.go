package validation

import (
	"testing"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
)

func TestNewURLValidator(t *testing.T) {
	validator := NewURLValidator()
	if validator == nil {
		t.Fatal("Expected non-nil URL validator")
	}

	if len(validator.allowedSchemes) != len(DefaultSourceSchemes) {
		t.Errorf("Expected %d schemes, got %d", len(DefaultSourceSchemes), len(validator.allowedSchemes))
	}
}

func TestValidateSourceURL_ValidURLs(t *testing.T) {
	validator := NewURLValidator()

	validURLs := []string{
		"http://example.com/sheet.jpg",
		"https://example.com/scans/sheet.png",
		"s3://exam-scans/2024/batch-1/sheet-001.png",
		"azblob://scans/sheet-002.jpg",
	}

	for _, url := range validURLs {
		if err := validator.ValidateSourceURL(url); err != nil {
			t.Errorf("Expected valid URL %s to pass validation, got error: %v", url, err)
		}
	}
}

func TestValidateSourceURL_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		message string
	}{
		{"empty", "", "URL cannot be empty"},
		{"blank", "   ", "URL cannot be empty"},
		{"ftp", "ftp://example.com/sheet.jpg", "URL scheme not allowed"},
		{"file over api", "file:///tmp/sheet.png", "URL scheme not allowed"},
		{"no host", "http:///path", "URL must have a valid host"},
		{"bucket without key", "s3://exam-scans", "object key missing from URL"},
		{"container without blob", "azblob://scans/", "object key missing from URL"},
	}

	validator := NewURLValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateSourceURL(tt.url)
			if err == nil {
				t.Fatalf("Expected %q to fail validation", tt.url)
			}
			appErr, ok := apperrors.As(err)
			if !ok {
				t.Fatalf("Expected AppError, got: %T", err)
			}
			if appErr.Message != tt.message {
				t.Errorf("Expected %q, got %q", tt.message, appErr.Message)
			}
		})
	}
}

func TestValidateSourceURL_LocalFiles(t *testing.T) {
	validator := NewURLValidatorWithOptions([]string{"file"}, nil)

	if err := validator.ValidateSourceURL("file:///var/scans/sheet.png"); err != nil {
		t.Errorf("Expected file URL to pass, got %v", err)
	}
	if err := validator.ValidateSourceURL("file://"); err == nil {
		t.Error("Expected file URL without path to fail")
	}
}

func TestValidateSourceURL_RestrictedHosts(t *testing.T) {
	allowedHosts := []string{"example.com", "trusted.com"}
	validator := NewURLValidatorWithOptions([]string{"http", "https"}, allowedHosts)

	if err := validator.ValidateSourceURL("https://trusted.com/sheet.png"); err != nil {
		t.Errorf("Expected allowed host to pass, got error: %v", err)
	}

	err := validator.ValidateSourceURL("https://untrusted.com/sheet.png")
	if appErr, ok := apperrors.As(err); !ok || appErr.Message != "URL host not allowed" {
		t.Errorf("Expected 'URL host not allowed' error, got: %v", err)
	}
}

func TestIsHostAllowed(t *testing.T) {
	validator := NewURLValidator()
	if !validator.isHostAllowed("example.com") {
		t.Error("Expected any host to be allowed when no restrictions")
	}

	restricted := NewURLValidatorWithOptions([]string{"http"}, []string{"example.com"})
	if restricted.isHostAllowed("malicious.com") {
		t.Error("Expected malicious.com to be disallowed")
	}
}
