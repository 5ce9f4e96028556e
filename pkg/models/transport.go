package models

// SourceRequest submits a sheet stored behind a source URL
type SourceRequest struct {
	URL string `json:"url" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// JobListResponse wraps a listing of scan jobs
type JobListResponse struct {
	Jobs  []ScanJob `json:"jobs"`
	Count int       `json:"count"`
}

// NewJobListResponse never encodes a nil slice
func NewJobListResponse(jobs []ScanJob) JobListResponse {
	if jobs == nil {
		jobs = []ScanJob{}
	}
	return JobListResponse{Jobs: jobs, Count: len(jobs)}
}
