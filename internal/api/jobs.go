package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// PDFResult is what a finished PDF job produced.
type PDFResult struct {
	Topic     string   `json:"topic"`
	Filename  string   `json:"filename"`
	Questions []string `json:"questions"`
}

// UploadJob tracks one PDF being turned into questions in the background.
// Clients poll it while the upload is processed.
type UploadJob struct {
	ID        string     `json:"job_id"`
	SessionID string     `json:"-"`
	Filename  string     `json:"filename"`
	Status    string     `json:"status"`
	Step      string     `json:"step,omitempty"`
	Message   string     `json:"message,omitempty"`
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	Percent   int        `json:"percent"`
	Result    *PDFResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*UploadJob
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*UploadJob),
	}
}

func (m *JobManager) CreateJob(sessionID, filename string) *UploadJob {
	now := time.Now().UTC()
	job := &UploadJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Filename:  filename,
		Status:    JobStatusPending,
		Total:     100,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.clone()
}

// GetJob returns a copy of the job if it belongs to sessionID.
func (m *JobManager) GetJob(id, sessionID string) (*UploadJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok || job.SessionID != sessionID {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) UpdateProgress(id, step, message string, current, total int) {
	m.withJob(id, func(job *UploadJob) {
		job.Status = JobStatusProcessing
		job.Step = step
		job.Message = message
		job.Current = current
		job.Total = total
		job.Percent = percent(current, total)
	})
}

func (m *JobManager) MarkCompleted(id string, result PDFResult) {
	m.withJob(id, func(job *UploadJob) {
		job.Status = JobStatusComplete
		job.Step = "complete"
		job.Message = "Processing complete"
		job.Current = job.Total
		job.Percent = 100
		res := result
		res.Questions = append([]string(nil), result.Questions...)
		job.Result = &res
		job.Error = ""
	})
}

func (m *JobManager) MarkFailed(id string, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "processing error"
	}
	m.withJob(id, func(job *UploadJob) {
		job.Status = JobStatusFailed
		job.Step = "error"
		job.Message = msg
		job.Error = msg
		job.Percent = 100
	})
}

func (m *JobManager) withJob(id string, fn func(job *UploadJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (job *UploadJob) clone() *UploadJob {
	if job == nil {
		return nil
	}
	out := *job
	if job.Result != nil {
		res := *job.Result
		res.Questions = append([]string(nil), job.Result.Questions...)
		out.Result = &res
	}
	return &out
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
