package factory

import (
	"testing"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

func TestStorageTypeFor(t *testing.T) {
	tests := []struct {
		url     string
		want    StorageType
		wantErr bool
	}{
		{"https://example.com/sheet.png", HTTPStorage, false},
		{"http://example.com/sheet.png", HTTPStorage, false},
		{"azblob://scans/sheet.png", AzureStorage, false},
		{"s3://bucket/sheet.png", S3Storage, false},
		{"file:///tmp/sheet.png", LocalStorage, false},
		{"/tmp/sheet.png", LocalStorage, false},
		{"ftp://example.com/sheet.png", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := StorageTypeFor(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStorageFactory_CachesBackends(t *testing.T) {
	f := NewStorageFactory(StorageConfig{})

	a, err := f.FetcherFor("https://example.com/a.png")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	b, _ := f.FetcherFor("http://example.com/b.png")
	if a != b {
		t.Error("Expected the HTTP fetcher to be reused")
	}

	if _, err := f.CreateStorage(AzureStorage); err == nil {
		t.Error("Expected unconfigured Azure storage to fail")
	}
	if _, err := f.CreateStorage("ftp"); err == nil {
		t.Error("Expected unsupported storage type to fail")
	}
}

func TestClassifierFactory_CachesModelFiles(t *testing.T) {
	f := NewClassifierFactory()
	loads := 0
	f.load = func(string) (models.ModelWeights, error) {
		loads++
		return models.ModelWeights{Fill: 8, Bias: -4}, nil
	}

	settings := models.DefaultSettings().WithMethod(models.MethodModel)
	settings.ModelPath = "weights.yaml"

	for i := 0; i < 3; i++ {
		s, err := f.CreateStrategy(settings)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.GetStrategyName() != "model" {
			t.Errorf("Expected model strategy, got %s", s.GetStrategyName())
		}
	}
	if loads != 1 {
		t.Errorf("Expected the model file to be read once, got %d", loads)
	}

	if _, err := f.CreateStrategy(settings.WithMethod("oracle")); err == nil {
		t.Error("Expected unknown method to fail")
	}
}
