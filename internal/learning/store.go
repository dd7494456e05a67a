// Package learning implements the Learning Coordinator (spec.md §4.5):
// submission, bounded concurrent scheduling, durable persistence, and
// cooperative cancellation of long-running learning jobs. Grounded on
// the SQLite schema and restart-not-resume recovery policy in
// original_source/model_ops_coordinator/core/learning.py, ported to
// gorm.io/gorm + gorm.io/driver/sqlite (helixml-helix's durable-storage
// stack).
package learning

import (
	"encoding/json"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// JobType and Status enumerate the data model in spec.md §3.
type JobType string

const (
	JobFineTune    JobType = "fine_tune"
	JobRLHF        JobType = "rlhf"
	JobLoRA        JobType = "lora"
	JobDistillation JobType = "distillation"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// jobRow is the gorm model for the `learning_jobs` table, matching the
// columns created_at/status/progress in
// original_source/core/learning.py's `CREATE TABLE learning_jobs`.
type jobRow struct {
	JobID       string `gorm:"primaryKey"`
	JobType     string
	ModelName   string
	DatasetRef  string
	ParamsJSON  string
	Status      string `gorm:"index"`
	Progress    float64
	Error       string
	ResultRef   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (jobRow) TableName() string { return "learning_jobs" }

// Job is the public, typed view of a learning job.
type Job struct {
	JobID       string
	JobType     JobType
	ModelName   string
	DatasetRef  string
	Params      map[string]string
	Status      Status
	Progress    float64
	Error       string
	ResultRef   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func rowFromJob(j Job) jobRow {
	params, _ := json.Marshal(j.Params)
	return jobRow{
		JobID:       j.JobID,
		JobType:     string(j.JobType),
		ModelName:   j.ModelName,
		DatasetRef:  j.DatasetRef,
		ParamsJSON:  string(params),
		Status:      string(j.Status),
		Progress:    j.Progress,
		Error:       j.Error,
		ResultRef:   j.ResultRef,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func jobFromRow(r jobRow) Job {
	var params map[string]string
	_ = json.Unmarshal([]byte(r.ParamsJSON), &params)
	return Job{
		JobID:       r.JobID,
		JobType:     JobType(r.JobType),
		ModelName:   r.ModelName,
		DatasetRef:  r.DatasetRef,
		Params:      params,
		Status:      Status(r.Status),
		Progress:    r.Progress,
		Error:       r.Error,
		ResultRef:   r.ResultRef,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// Store wraps the durable gorm-backed job table.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the SQLite-backed job store at dsn, e.g.
// "./learning_jobs.db" per the learning.job_store config key.
func OpenStore(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&jobRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Insert(j Job) error {
	return s.db.Create(rowFromJob(j)).Error
}

func (s *Store) Update(j Job) error {
	return s.db.Save(rowFromJob(j)).Error
}

func (s *Store) Get(jobID string) (Job, bool, error) {
	var r jobRow
	err := s.db.First(&r, "job_id = ?", jobID).Error
	if err == gorm.ErrRecordNotFound {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return jobFromRow(r), true, nil
}

func (s *Store) List() ([]Job, error) {
	var rows []jobRow
	if err := s.db.Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, jobFromRow(r))
	}
	return out, nil
}

func (s *Store) ListByStatus(status Status) ([]Job, error) {
	var rows []jobRow
	if err := s.db.Where("status = ?", string(status)).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, jobFromRow(r))
	}
	return out, nil
}

// DemoteRunningToPending implements the confirmed restart-not-resume
// recovery policy from original_source/core/learning.py: on startup,
// rows left in `running` state are demoted to `pending`.
func (s *Store) DemoteRunningToPending() error {
	return s.db.Model(&jobRow{}).Where("status = ?", string(StatusRunning)).
		Update("status", string(StatusPending)).Error
}
