package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

const (
	summarySheet = "Summary"
	answersSheet = "Answers"
	issuesSheet  = "Issues"
)

// writeXLSX builds a workbook with one row per job on Summary, one row per
// question on Answers and one row per warning, flag or error on Issues.
func writeXLSX(w io.Writer, jobs []models.ScanJob) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("xlsx rename sheet: %w", err)
	}
	for _, name := range []string{answersSheet, issuesSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("xlsx new sheet %s: %w", name, err)
		}
	}

	summary := newSheetWriter(f, summarySheet)
	summary.row("Job", "Source", "Status", "Confidence", "Attempts", "Duration (ms)",
		"Exam", "Set", "Student", "Roll", "Issues")

	answers := newSheetWriter(f, answersSheet)
	answers.row("Job", "Question", "Options", "Status", "Confidence", "Suggested")

	issues := newSheetWriter(f, issuesSheet)
	issues.row("Job", "Severity", "Stage", "Code", "Message", "Measured", "Threshold")

	for _, job := range jobs {
		var exam, set, student, roll string
		if job.Result != nil && job.Result.Identity != nil {
			id := job.Result.Identity
			exam, set, student, roll = id.ExamID, id.SetID, id.StudentID, id.RollNumber
		}

		labels := make([]string, 0, len(job.Errors)+len(job.Warnings))
		for _, i := range reviewIssues(job) {
			labels = append(labels, issueLabel(i))
		}
		summary.row(job.ID, job.Source, string(job.Status), job.Confidence, job.Attempts,
			job.ProcessingDuration.Milliseconds(), exam, set, student, roll, strings.Join(labels, "\n"))

		for _, q := range sortedVerdicts(job.Result) {
			answers.row(job.ID, q.Question+1, optionsLabel(q.Selected), string(q.Status), q.Confidence, optionsLabel(q.Suggested))
		}

		all := append(append([]models.Issue(nil), job.Errors...), job.Warnings...)
		for _, i := range all {
			issues.row(job.ID, string(i.Severity), string(i.Stage), i.Code, i.Message, i.Measured, i.Threshold)
		}
	}

	summary.width("A", "B", 38)
	summary.width("K", "K", 80)
	answers.width("A", "A", 38)
	issues.width("A", "A", 38)
	issues.width("E", "E", 60)

	for _, sw := range []*sheetWriter{summary, answers, issues} {
		if sw.err != nil {
			return fmt.Errorf("xlsx write %s: %w", sw.sheet, sw.err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// sheetWriter appends rows to a sheet and keeps the first error
type sheetWriter struct {
	f     *excelize.File
	sheet string
	next  int
	err   error
}

func newSheetWriter(f *excelize.File, sheet string) *sheetWriter {
	return &sheetWriter{f: f, sheet: sheet, next: 1}
}

func (s *sheetWriter) row(values ...any) {
	if s.err != nil {
		return
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, s.next)
		if err == nil {
			err = s.f.SetCellValue(s.sheet, cell, v)
		}
		if err != nil {
			s.err = err
			return
		}
	}
	s.next++
}

// width sets the width of columns start through end
func (s *sheetWriter) width(start, end string, width float64) {
	if s.err != nil {
		return
	}
	s.err = s.f.SetColWidth(s.sheet, start, end, width)
}
