package items

// JobStatus is derived from the WorkItems of one submission; jobs are not persisted.
type JobStatus string

const (
	JobEmpty      JobStatus = "EMPTY"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// JobSummary aggregates per-item state of a job.
type JobSummary struct {
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
	Total      int       `json:"total"`
	Processing int       `json:"processing"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
}

// Summarize counts item outcomes. A job is processing while any item is, failed when every item failed,
// and completed otherwise. Failed siblings never roll back completed ones.
func Summarize(jobID string, list []WorkItem) JobSummary {
	s := JobSummary{JobID: jobID, Total: len(list)}
	for _, it := range list {
		switch it.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		default:
			s.Processing++
		}
	}
	switch {
	case s.Total == 0:
		s.Status = JobEmpty
	case s.Processing > 0:
		s.Status = JobProcessing
	case s.Failed == s.Total:
		s.Status = JobFailed
	default:
		s.Status = JobCompleted
	}
	return s
}
