package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// markdownReport renders a summary table followed by one section per job
func markdownReport(jobs []models.ScanJob) string {
	var b strings.Builder

	b.WriteString("# Scan report\n\n")
	counts := make(map[models.JobStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}
	fmt.Fprintf(&b, "%d sheets: %d completed, %d flagged, %d error, %d cancelled, %d pending/processing.\n\n",
		len(jobs), counts[models.StatusCompleted], counts[models.StatusFlagged], counts[models.StatusError],
		counts[models.StatusCancelled], counts[models.StatusPending]+counts[models.StatusProcessing])

	if len(jobs) == 0 {
		return b.String()
	}

	b.WriteString("| Job | Status | Confidence | Identity | Answered | Review |\n")
	b.WriteString("|---|---|---:|---|---:|---|\n")
	for _, job := range jobs {
		answered := 0
		if job.Result != nil {
			answered = len(job.Result.Answers)
		}
		review := reviewIssues(job)
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %d |\n",
			cell(job.ID), statusLabel(job.Status), formatConfidence(job),
			cell(identityLabel(identityOf(job))), answered, len(review))
	}

	for _, job := range jobs {
		fmt.Fprintf(&b, "\n## %s\n\n", job.ID)
		if job.Source != "" || job.Filename != "" {
			fmt.Fprintf(&b, "Source: `%s`\n\n", firstNonEmpty(job.Source, job.Filename))
		}
		fmt.Fprintf(&b, "Status **%s**, confidence %s, attempt %d.\n", job.Status, formatConfidence(job), job.Attempts)

		if issues := append(append([]models.Issue(nil), job.Errors...), job.Warnings...); len(issues) > 0 {
			b.WriteString("\n| Severity | Stage | Code | Message | Measured | Threshold |\n")
			b.WriteString("|---|---|---|---|---:|---:|\n")
			for _, i := range issues {
				fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
					i.Severity, i.Stage, cell(i.Code), cell(i.Message), formatFloat(i.Measured), formatFloat(i.Threshold))
			}
		}

		if verdicts := sortedVerdicts(job.Result); len(verdicts) > 0 {
			b.WriteString("\n| Question | Options | Status | Confidence |\n")
			b.WriteString("|---:|---|---|---:|\n")
			for _, q := range verdicts {
				fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
					questionLabel(q.Question), optionsLabel(q.Selected), q.Status, formatFloat(q.Confidence))
			}
		}

		if job.Result != nil && len(job.Result.Overrides) > 0 {
			b.WriteString("\nOverrides:\n\n")
			for _, o := range job.Result.Overrides {
				fmt.Fprintf(&b, "- Q%s %s -> %s by %s", questionLabel(o.Question),
					optionsLabel(o.Previous), optionsLabel(o.Options), cell(o.Reviewer))
				if o.Reason != "" {
					fmt.Fprintf(&b, " (%s)", cell(o.Reason))
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func writeHTML(w io.Writer, jobs []models.ScanJob) error {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(markdownReport(jobs)), &body); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Scan report</title>\n</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	_, err := w.Write(out.Bytes())
	return err
}

// statusLabel emphasises the states that need a reviewer
func statusLabel(s models.JobStatus) string {
	switch s {
	case models.StatusFlagged, models.StatusError:
		return "**" + string(s) + "**"
	}
	return string(s)
}

// cell escapes text for a GFM table cell
func cell(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func identityOf(job models.ScanJob) *models.Identity {
	if job.Result == nil {
		return nil
	}
	return job.Result.Identity
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
