package export

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// writeText renders one summary row per job. Flagged and error rows list the
// issues that put them there.
func writeText(w io.Writer, jobs []models.ScanJob) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Job", "Status", "Confidence", "Identity", "Answered", "Review"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, job := range jobs {
		answered := "-"
		if job.Result != nil {
			answered = strconv.Itoa(len(job.Result.Answers)) + "/" + strconv.Itoa(len(job.Result.Questions))
		}

		var review []string
		for _, i := range reviewIssues(job) {
			review = append(review, issueLabel(i))
		}
		if len(review) == 0 {
			review = []string{"-"}
		}

		table.Append([]string{
			job.ID,
			strings.ToUpper(string(job.Status)),
			formatConfidence(job),
			identityLabel(identityOf(job)),
			answered,
			strings.Join(review, "\n"),
		})
	}

	table.Render()
	return nil
}
