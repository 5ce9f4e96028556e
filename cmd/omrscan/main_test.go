package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anime-shed/omr-inspector-go/internal/sheettest"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

func writeSheet(t *testing.T, dir, name string, l sheettest.Layout) string {
	t.Helper()
	data, err := l.PNG()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunScan(t *testing.T) {
	dir := t.TempDir()
	layout := sheettest.DefaultLayout()
	marks := make(map[int][]int)
	for q := 0; q < layout.Questions(); q++ {
		marks[q] = []int{(q * 7) % layout.Options}
	}

	good := writeSheet(t, dir, "good.png", layout.WithMarks(marks).WithQR(`{"examId":"ENG-1"}`))
	broken := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(broken, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	settingsFile := filepath.Join(dir, "settings.yaml")
	doc := "gridRows: 10\ngridColumns: 4\noptionsPerQuestion: 4\npreprocessing:\n  sheetAspect: 1.4\n"
	if err := os.WriteFile(settingsFile, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := runScan(context.Background(), scanOptions{settingsFile: settingsFile, format: "json", concurrency: 2},
		[]string{good, broken}, &out)
	if err != nil {
		t.Fatalf("runScan failed: %v", err)
	}

	var jobs []models.ScanJob
	if err := json.Unmarshal(out.Bytes(), &jobs); err != nil {
		t.Fatalf("Invalid JSON report: %v\n%s", err, out.String())
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Filename != "good.png" || jobs[0].Result == nil {
		t.Errorf("Expected the good sheet first with a result, got %+v", jobs[0])
	}
	if jobs[1].Status != models.StatusError || len(jobs[1].Errors) == 0 {
		t.Errorf("Expected the broken sheet to fail, got %s", jobs[1].Status)
	}
}

func TestRunScan_TextReport(t *testing.T) {
	dir := t.TempDir()
	layout := sheettest.DefaultLayout()
	path := writeSheet(t, dir, "blank.png", layout.WithQR(`{"examId":"ENG-1"}`))

	var out bytes.Buffer
	if err := runScan(context.Background(), scanOptions{format: "text"}, []string{path}, &out); err != nil {
		t.Fatalf("runScan failed: %v", err)
	}
	if !strings.Contains(out.String(), "STATUS") {
		t.Errorf("Expected a table header, got %s", out.String())
	}
}

func TestRunScan_Errors(t *testing.T) {
	var out bytes.Buffer
	if err := runScan(context.Background(), scanOptions{format: "pdf"}, []string{"x.png"}, &out); err == nil {
		t.Error("Expected unsupported format to fail")
	}
	if err := runScan(context.Background(), scanOptions{format: "json"}, []string{filepath.Join(t.TempDir(), "missing.png")}, &out); err == nil {
		t.Error("Expected missing file to fail")
	}
	if err := runScan(context.Background(), scanOptions{settingsFile: "/does/not/exist.yaml"}, []string{"x.png"}, &out); err == nil {
		t.Error("Expected missing settings file to fail")
	}
}

// failingClose buffers the report and fails on Close, like a full disk
type failingClose struct {
	bytes.Buffer
}

func (f *failingClose) Close() error { return errors.New("no space left on device") }

func TestScanTo_OutputFile(t *testing.T) {
	dir := t.TempDir()
	layout := sheettest.DefaultLayout()
	sheet := writeSheet(t, dir, "sheet.png", layout.WithQR(`{"examId":"ENG-1"}`))

	t.Run("writes the file", func(t *testing.T) {
		path := filepath.Join(dir, "report.md")
		if err := scanTo(context.Background(), scanOptions{format: "md", out: path}, []string{sheet}, io.Discard); err != nil {
			t.Fatalf("scanTo failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "# Scan report") {
			t.Errorf("Expected a markdown report, got %s", data)
		}
	})

	t.Run("close error fails the run", func(t *testing.T) {
		orig := createOutput
		t.Cleanup(func() { createOutput = orig })
		out := &failingClose{}
		createOutput = func(string) (io.WriteCloser, error) { return out, nil }

		err := scanTo(context.Background(), scanOptions{format: "md", out: "report.md"}, []string{sheet}, io.Discard)
		if err == nil || !strings.Contains(err.Error(), "no space left") {
			t.Errorf("Expected the close error, got %v", err)
		}
		if out.Len() == 0 {
			t.Error("Expected the report to have been written before closing")
		}
	})
}
