package models

import (
	"image"
	"time"
)

// PayloadKind classifies a decoded QR payload by its schema
type PayloadKind string

const (
	PayloadIdentity  PayloadKind = "identity"
	PayloadTimestamp PayloadKind = "timestamp"
	PayloadAnchor    PayloadKind = "anchor"
	PayloadRaw       PayloadKind = "raw"
)

// QRPayload is one decoded machine-readable marker
type QRPayload struct {
	Text            string          `json:"text"`
	Bounds          image.Rectangle `json:"bounds"`
	Confidence      float64         `json:"confidence"`
	Format          string          `json:"format"`
	ErrorCorrection string          `json:"error_correction,omitempty"`
	Kind            PayloadKind     `json:"kind,omitempty"`
}

// GridCell is one addressable bubble position
type GridCell struct {
	Bounds     image.Rectangle `json:"bounds"`
	Row        int             `json:"row"`
	Col        int             `json:"col"`
	Question   int             `json:"question"`
	Option     int             `json:"option"`
	Confidence float64         `json:"confidence"`
}

// GridTopology is the dense lattice of cells found on a sheet
type GridTopology struct {
	Rows               int        `json:"rows"`
	Cols               int        `json:"cols"`
	OptionsPerQuestion int        `json:"options_per_question"`
	Questions          int        `json:"questions"`
	Cells              []GridCell `json:"cells"`
	Confidence         float64    `json:"confidence"`
}

// Cell returns the cell at a row/column address
func (t GridTopology) Cell(row, col int) (GridCell, bool) {
	if row < 0 || col < 0 || row >= t.Rows || col >= t.Cols {
		return GridCell{}, false
	}
	idx := row*t.Cols + col
	if idx >= len(t.Cells) {
		return GridCell{}, false
	}
	return t.Cells[idx], true
}

// BubbleObservation is the measured fill and verdict of one cell
type BubbleObservation struct {
	Row           int     `json:"row"`
	Col           int     `json:"col"`
	Question      int     `json:"question"`
	Option        int     `json:"option"`
	FillFraction  float64 `json:"fill_fraction"`
	MeanIntensity float64 `json:"mean_intensity"`
	Background    float64 `json:"background"`
	Selected      bool    `json:"selected"`
	Confidence    float64 `json:"confidence"`
	Method        string  `json:"method"`
	Disagreement  bool    `json:"disagreement,omitempty"`
	Overridden    bool    `json:"overridden,omitempty"`
}

// AnswerStatus describes how a question was resolved
type AnswerStatus string

const (
	AnswerAnswered   AnswerStatus = "answered"
	AnswerAmbiguous  AnswerStatus = "ambiguous"
	AnswerUnanswered AnswerStatus = "unanswered"
)

// QuestionVerdict is the per-question resolution of its options
type QuestionVerdict struct {
	Question   int          `json:"question"`
	Multi      bool         `json:"multi,omitempty"`
	Selected   []int        `json:"selected"`
	Marked     []int        `json:"marked,omitempty"`
	Status     AnswerStatus `json:"status"`
	Confidence float64      `json:"confidence"`
	// Suggested holds the likely intended option of an ambiguous question
	// whose extra marks look erased. It is never an answer until a
	// reviewer confirms it.
	Suggested []int `json:"suggested,omitempty"`
}

// Classification is the bubble stage output
type Classification struct {
	Observations  []BubbleObservation `json:"observations"`
	Questions     []QuestionVerdict   `json:"questions"`
	Confidence    float64             `json:"confidence"`
	Disagreements int                 `json:"disagreements,omitempty"`
}

// Annotation marks a question downstream grading must treat specially
type Annotation struct {
	Question int          `json:"question"`
	Status   AnswerStatus `json:"status"`
	Marked   []int        `json:"marked,omitempty"`
}

// Identity is the sheet metadata decoded from an identity payload
type Identity struct {
	ExamID         string            `json:"exam_id,omitempty"`
	SetID          string            `json:"set_id,omitempty"`
	StudentID      string            `json:"student_id,omitempty"`
	RollNumber     string            `json:"roll_number,omitempty"`
	RegistrationNo string            `json:"registration_no,omitempty"`
	SubjectCode    string            `json:"subject_code,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// StageConfidence keeps the per-stage inputs of the aggregate score
type StageConfidence struct {
	QR     float64 `json:"qr"`
	Grid   float64 `json:"grid"`
	Bubble float64 `json:"bubble"`
}

// Override records one manual correction of a question
type Override struct {
	Question  int       `json:"question"`
	Previous  []int     `json:"previous"`
	Options   []int     `json:"options"`
	Reviewer  string    `json:"reviewer"`
	Reason    string    `json:"reason,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// ScanResult is the structured answer set exposed to grading
type ScanResult struct {
	JobID           string              `json:"job_id"`
	Answers         map[int][]int       `json:"answers"`
	Annotations     []Annotation        `json:"annotations,omitempty"`
	Questions       []QuestionVerdict   `json:"questions"`
	Observations    []BubbleObservation `json:"observations,omitempty"`
	Identity        *Identity           `json:"identity,omitempty"`
	Timestamp       *time.Time          `json:"timestamp,omitempty"`
	Payloads        []QRPayload         `json:"payloads,omitempty"`
	StageConfidence StageConfidence     `json:"stage_confidence"`
	Confidence      float64             `json:"confidence"`
	Overrides       []Override          `json:"overrides,omitempty"`
}

// Clone returns a deep copy of the result
func (r ScanResult) Clone() ScanResult {
	cp := r
	if r.Answers != nil {
		cp.Answers = make(map[int][]int, len(r.Answers))
		for q, opts := range r.Answers {
			cp.Answers[q] = append([]int(nil), opts...)
		}
	}
	if r.Annotations != nil {
		cp.Annotations = make([]Annotation, len(r.Annotations))
		for i, a := range r.Annotations {
			a.Marked = append([]int(nil), a.Marked...)
			cp.Annotations[i] = a
		}
	}
	if r.Questions != nil {
		cp.Questions = make([]QuestionVerdict, len(r.Questions))
		for i, q := range r.Questions {
			q.Selected = append([]int(nil), q.Selected...)
			q.Marked = append([]int(nil), q.Marked...)
			cp.Questions[i] = q
		}
	}
	if r.Identity != nil {
		id := *r.Identity
		if r.Identity.Extra != nil {
			id.Extra = make(map[string]string, len(r.Identity.Extra))
			for k, v := range r.Identity.Extra {
				id.Extra[k] = v
			}
		}
		cp.Identity = &id
	}
	if r.Timestamp != nil {
		ts := *r.Timestamp
		cp.Timestamp = &ts
	}
	cp.Observations = append([]BubbleObservation(nil), r.Observations...)
	cp.Payloads = append([]QRPayload(nil), r.Payloads...)
	cp.Overrides = append([]Override(nil), r.Overrides...)
	return cp
}
