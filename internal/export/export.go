// Package export renders stored scan jobs into downloadable reports.
// Every format is a pure projection: the same jobs always give the same bytes
// (xlsx excepted, whose container metadata excelize owns).
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// Format is an export encoding
type Format string

const (
	FormatJSON     Format = "json"
	FormatXLSX     Format = "xlsx"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatText     Format = "text"
)

// Formats lists the supported formats
var Formats = []Format{FormatJSON, FormatXLSX, FormatMarkdown, FormatHTML, FormatText}

// ParseFormat resolves a user supplied format name. Empty means json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "text", "txt", "table":
		return FormatText, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unsupported export format %q", s), nil)
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Extension returns the file extension for the format, without the dot
func (f Format) Extension() string {
	if f == FormatText {
		return "txt"
	}
	return string(f)
}

// Export writes jobs to w in the given format. Jobs are written in the order
// given.
func Export(w io.Writer, format Format, jobs []models.ScanJob) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, jobs)
	case FormatXLSX:
		return writeXLSX(w, jobs)
	case FormatMarkdown:
		_, err := io.WriteString(w, markdownReport(jobs))
		return err
	case FormatHTML:
		return writeHTML(w, jobs)
	case FormatText:
		return writeText(w, jobs)
	}
	return apperrors.NewValidationError(fmt.Sprintf("unsupported export format %q", format), nil)
}

func writeJSON(w io.Writer, jobs []models.ScanJob) error {
	if jobs == nil {
		jobs = []models.ScanJob{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jobs)
}

// questionLabel numbers questions from 1 the way they are printed on sheets
func questionLabel(q int) string {
	return strconv.Itoa(q + 1)
}

// optionLabel letters options A, B, C...
func optionLabel(o int) string {
	if o >= 0 && o < 26 {
		return string(rune('A' + o))
	}
	return strconv.Itoa(o + 1)
}

func optionsLabel(opts []int) string {
	if len(opts) == 0 {
		return "-"
	}
	labels := make([]string, len(opts))
	for i, o := range opts {
		labels[i] = optionLabel(o)
	}
	return strings.Join(labels, ",")
}

func identityLabel(id *models.Identity) string {
	if id == nil {
		return ""
	}
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("exam", id.ExamID)
	add("set", id.SetID)
	add("student", id.StudentID)
	add("roll", id.RollNumber)
	add("reg", id.RegistrationNo)
	add("subject", id.SubjectCode)

	keys := make([]string, 0, len(id.Extra))
	for k := range id.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, id.Extra[k])
	}
	return strings.Join(parts, " ")
}

func issueLabel(i models.Issue) string {
	s := fmt.Sprintf("[%s] %s/%s: %s", i.Severity, i.Stage, i.Code, i.Message)
	if i.Measured != 0 || i.Threshold != 0 {
		s += fmt.Sprintf(" (measured %s, threshold %s)", formatFloat(i.Measured), formatFloat(i.Threshold))
	}
	return s
}

// reviewIssues returns the fatal errors followed by the flags of a job
func reviewIssues(job models.ScanJob) []models.Issue {
	issues := append([]models.Issue(nil), job.Errors...)
	return append(issues, job.Flags()...)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatConfidence(job models.ScanJob) string {
	if job.Result == nil && job.Confidence == 0 {
		return "-"
	}
	return strconv.FormatFloat(job.Confidence, 'f', 3, 64)
}

func sortedVerdicts(r *models.ScanResult) []models.QuestionVerdict {
	if r == nil {
		return nil
	}
	qs := append([]models.QuestionVerdict(nil), r.Questions...)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Question < qs[j].Question })
	return qs
}
