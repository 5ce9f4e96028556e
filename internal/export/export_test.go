package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

func sampleJobs() []models.ScanJob {
	submitted := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return []models.ScanJob{
		{
			ID:          "job-ok",
			Source:      "sheets/a.png",
			Status:      models.StatusCompleted,
			Confidence:  0.93,
			Attempts:    1,
			SubmittedAt: submitted,
			Result: &models.ScanResult{
				JobID:   "job-ok",
				Answers: map[int][]int{0: {2}, 1: {0}},
				Questions: []models.QuestionVerdict{
					{Question: 1, Selected: []int{0}, Status: models.AnswerAnswered, Confidence: 0.97},
					{Question: 0, Selected: []int{2}, Status: models.AnswerAnswered, Confidence: 0.95},
				},
				Identity:   &models.Identity{ExamID: "PHY-7", SetID: "B", Extra: map[string]string{"room": "12", "hall": "A"}},
				Confidence: 0.93,
			},
		},
		{
			ID:          "job-flagged",
			Status:      models.StatusFlagged,
			Confidence:  0.61,
			Attempts:    1,
			SubmittedAt: submitted,
			Warnings: []models.Issue{
				{Stage: models.StageQR, Code: "qr_missing", Message: "no QR code found", Severity: models.SeverityFlag},
				{Stage: models.StagePreprocess, Code: "low_contrast", Message: "contrast | low", Severity: models.SeverityWarning, Measured: 0.1, Threshold: 0.2},
			},
			Result: &models.ScanResult{
				JobID:      "job-flagged",
				Answers:    map[int][]int{},
				Questions:  []models.QuestionVerdict{{Question: 0, Status: models.AnswerAmbiguous, Marked: []int{1, 2}}},
				Confidence: 0.61,
				Overrides:  []models.Override{{Question: 0, Previous: nil, Options: []int{1}, Reviewer: "ana", Reason: "smudge"}},
			},
		},
		{
			ID:          "job-error",
			Status:      models.StatusError,
			Attempts:    2,
			SubmittedAt: submitted,
			Errors: []models.Issue{
				{Stage: models.StageGrid, Code: "grid", Message: "found 9 rows", Severity: models.SeverityFatal, Measured: 9, Threshold: 10},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"xlsx", FormatXLSX, false},
		{"markdown", FormatMarkdown, false},
		{"html", FormatHTML, false},
		{"txt", FormatText, false},
		{"pdf", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if tt.wantErr && !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if FormatText.Extension() != "txt" || FormatXLSX.Extension() != "xlsx" {
		t.Error("Unexpected file extensions")
	}
}

func TestExport_IsPure(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatMarkdown, FormatHTML, FormatText} {
		t.Run(string(format), func(t *testing.T) {
			jobs := sampleJobs()
			var first, second bytes.Buffer
			if err := Export(&first, format, jobs); err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if err := Export(&second, format, jobs); err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if !bytes.Equal(first.Bytes(), second.Bytes()) {
				t.Error("Repeat export produced different bytes")
			}
			if first.Len() == 0 {
				t.Error("Expected output")
			}

			// export must not mutate its input
			fresh := sampleJobs()
			if jobs[0].Result.Questions[0].Question != fresh[0].Result.Questions[0].Question {
				t.Error("Export reordered the caller's verdicts")
			}
		})
	}
}

func TestExport_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatJSON, sampleJobs()); err != nil {
		t.Fatal(err)
	}

	var decoded []models.ScanJob
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if len(decoded) != 3 || decoded[2].Errors[0].Threshold != 10 {
		t.Errorf("Unexpected decoded jobs: %+v", decoded)
	}

	buf.Reset()
	if err := Export(&buf, FormatJSON, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("Expected empty array, got %q", buf.String())
	}
}

func TestExport_MarkdownAndHTML(t *testing.T) {
	var md bytes.Buffer
	if err := Export(&md, FormatMarkdown, sampleJobs()); err != nil {
		t.Fatal(err)
	}
	report := md.String()

	for _, want := range []string{
		"3 sheets: 1 completed, 1 flagged, 1 error",
		"| job-error | **error** |",
		"| fatal | grid | grid | found 9 rows | 9.000 | 10.000 |",
		"exam=PHY-7 set=B hall=A room=12",
		"contrast \\| low",
		"| 1 | C | answered | 0.950 |",
		"- Q1 - -> B by ana (smudge)",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("Expected report to contain %q\n%s", want, report)
		}
	}

	// questions are listed in sheet order
	if strings.Index(report, "| 1 | C |") > strings.Index(report, "| 2 | A |") {
		t.Error("Expected questions in ascending order")
	}

	var html bytes.Buffer
	if err := Export(&html, FormatHTML, sampleJobs()); err != nil {
		t.Fatal(err)
	}
	out := html.String()
	if !strings.HasPrefix(out, "<!DOCTYPE html>") {
		t.Error("Expected an HTML document")
	}
	if !strings.Contains(out, "<table>") || !strings.Contains(out, "<td>job-flagged</td>") {
		t.Errorf("Expected GFM tables rendered as HTML\n%s", out)
	}
}

func TestExport_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatText, sampleJobs()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"FLAGGED",
		"[flag] qr/qr_missing: no QR code found",
		"[fatal] grid/grid: found 9 rows (measured 9.000, threshold 10.000)",
		"2/2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected table to contain %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "low_contrast") {
		t.Error("Plain warnings should not appear in the review column")
	}
}

func TestExport_XLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatXLSX, sampleJobs()); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	summary, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 4 {
		t.Fatalf("Expected header plus 3 rows, got %d", len(summary))
	}
	if summary[1][0] != "job-ok" || summary[1][2] != "completed" || summary[1][6] != "PHY-7" {
		t.Errorf("Unexpected summary row: %v", summary[1])
	}

	answers, _ := f.GetRows(answersSheet)
	if len(answers) != 4 {
		t.Fatalf("Expected header plus 3 answer rows, got %d", len(answers))
	}
	if answers[1][1] != "1" || answers[1][2] != "C" {
		t.Errorf("Expected question 1 answered C, got %v", answers[1])
	}

	issues, _ := f.GetRows(issuesSheet)
	if len(issues) != 4 {
		t.Fatalf("Expected header plus 3 issue rows, got %d", len(issues))
	}
	if issues[1][0] != "job-flagged" || issues[3][1] != "fatal" || issues[3][6] != "10" {
		t.Errorf("Unexpected issue rows: %v", issues)
	}
}

func TestSheetWriter_KeepsFirstError(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sw := newSheetWriter(f, "Sheet1")
	sw.width("A", "A", 300) // wider than excelize allows
	if sw.err == nil {
		t.Fatal("Expected an invalid column width to be reported")
	}
	first := sw.err

	sw.row("ignored")
	sw.width("B", "B", 10)
	if sw.err != first || sw.next != 1 {
		t.Errorf("Expected the first error kept and no rows written, got %v at row %d", sw.err, sw.next)
	}
}
