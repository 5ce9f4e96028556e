package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestParseBlobURL(t *testing.T) {
	tests := []struct {
		url       string
		container string
		blob      string
		wantErr   bool
	}{
		{"azblob://scans/2024/sheet-1.png", "scans", "2024/sheet-1.png", false},
		{"azblob://scans/", "", "", true},
		{"https://scans/sheet.png", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			container, blob, err := parseBlobURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if container != tt.container || blob != tt.blob {
				t.Errorf("Expected %s/%s, got %s/%s", tt.container, tt.blob, container, blob)
			}
		})
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://exam-scans/batch-1/sheet-001.png", "exam-scans", "batch-1/sheet-001.png", false},
		{"s3://exam-scans", "", "", true},
		{"azblob://exam-scans/a.png", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			bucket, key, err := parseS3URL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("Expected %s/%s, got %s/%s", tt.bucket, tt.key, bucket, key)
			}
		})
	}
}

type fakeObjectGetter struct {
	objects map[string][]byte
	lastKey string
}

func (f *fakeObjectGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = *in.Bucket + "/" + *in.Key
	data, ok := f.objects[f.lastKey]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Storage_FetchSheet(t *testing.T) {
	getter := &fakeObjectGetter{objects: map[string][]byte{"scans/a.png": []byte("sheet")}}
	s := &s3Storage{client: getter}

	data, err := s.FetchSheet(context.Background(), "s3://scans/a.png")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(data) != "sheet" {
		t.Errorf("Expected sheet bytes, got %q", data)
	}

	if _, err := s.FetchSheet(context.Background(), "s3://scans/missing.png"); err == nil {
		t.Error("Expected an error for a missing object")
	}
}

func TestLocalStorage_FetchSheet(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sheet.png"), []byte("sheet"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		root    string
		source  string
		wantErr bool
	}{
		{"plain path", "", filepath.Join(dir, "sheet.png"), false},
		{"file URL", "", "file://" + filepath.Join(dir, "sheet.png"), false},
		{"relative to root", dir, "sheet.png", false},
		{"escapes root", dir, "../../etc/passwd", true},
		{"absolute outside root", dir, "/etc/passwd", true},
		{"missing file", "", filepath.Join(dir, "missing.png"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := NewLocalStorage(tt.root).FetchSheet(context.Background(), tt.source)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && string(data) != "sheet" {
				t.Errorf("Expected sheet bytes, got %q", data)
			}
		})
	}
}

func TestReadLimited(t *testing.T) {
	big := bytes.NewReader(make([]byte, MaxSheetBytes+1))
	if _, err := readLimited(big); err == nil {
		t.Error("Expected oversized sheet to be rejected")
	}
}
