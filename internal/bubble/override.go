package bubble

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ManualOverride replaces the selection of one question. It is the only
// path that edits Selected after classification; the returned record is
// meant to be stored with the result.
func ManualOverride(c *models.Classification, question int, options []int, reviewer, reason string) (models.Override, error) {
	if reviewer == "" {
		return models.Override{}, apperrors.NewValidationError("reviewer is required", nil)
	}

	qi := -1
	for i := range c.Questions {
		if c.Questions[i].Question == question {
			qi = i
			break
		}
	}
	if qi < 0 {
		return models.Override{}, apperrors.NewNotFoundError(fmt.Sprintf("question %d not found", question), nil)
	}
	verdict := &c.Questions[qi]

	valid := make(map[int]bool)
	for _, o := range c.Observations {
		if o.Question == question {
			valid[o.Option] = true
		}
	}
	chosen := make(map[int]bool, len(options))
	for _, opt := range options {
		if !valid[opt] {
			return models.Override{}, apperrors.NewValidationError(fmt.Sprintf("question %d has no option %d", question, opt), nil)
		}
		chosen[opt] = true
	}
	if !verdict.Multi && len(chosen) > 1 {
		return models.Override{}, apperrors.NewValidationError(fmt.Sprintf("question %d accepts a single answer", question), nil)
	}

	selected := make([]int, 0, len(chosen))
	for opt := range chosen {
		selected = append(selected, opt)
	}
	sort.Ints(selected)

	ov := models.Override{
		Question:  question,
		Previous:  append([]int{}, verdict.Selected...),
		Options:   selected,
		Reviewer:  reviewer,
		Reason:    reason,
		AppliedAt: time.Now().UTC(),
	}

	for i := range c.Observations {
		o := &c.Observations[i]
		if o.Question != question {
			continue
		}
		o.Selected = chosen[o.Option]
		o.Overridden = true
		o.Confidence = 1
	}

	verdict.Selected = append([]int(nil), selected...)
	verdict.Marked = append([]int(nil), selected...)
	verdict.Confidence = 1
	verdict.Suggested = nil
	if len(selected) == 0 {
		verdict.Status = models.AnswerUnanswered
	} else {
		verdict.Status = models.AnswerAnswered
	}

	logger.WithFields(logrus.Fields{
		"question": question,
		"previous": ov.Previous,
		"options":  ov.Options,
		"reviewer": reviewer,
		"reason":   reason,
	}).Info("Manual override applied")

	return ov, nil
}
