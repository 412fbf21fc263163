package bom

import (
	"fmt"
	"time"
)

// JobStatus 导入任务状态
type JobStatus string

const (
	JobWaiting    JobStatus = "waiting"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// ImportJob 项目导入任务记录，每个项目一行
// done 时 ErrorMessage 为空且 LatestImportedAt 已设置；failed 时 ErrorMessage 必有值
type ImportJob struct {
	ProjectID        uint64     `json:"project_id" gorm:"primaryKey;autoIncrement:false;comment:项目ID"`
	BOMFileEtag      string     `json:"bom_file_etag" gorm:"size:128;comment:最近一次导入的BOM文件指纹"`
	JobID            string     `json:"job_id" gorm:"size:64;index;comment:队列任务ID"`
	Status           JobStatus  `json:"status" gorm:"size:20;not null;default:'waiting';comment:任务状态(waiting/processing/done/failed)"`
	TotalSteps       int        `json:"total_steps" gorm:"not null;default:0;comment:总步数"`
	ProcessedSteps   int        `json:"processed_steps" gorm:"not null;default:0;comment:已处理步数"`
	ErrorMessage     *string    `json:"error_message" gorm:"type:text;comment:失败原因"`
	LatestImportedAt *time.Time `json:"latest_imported_at" gorm:"comment:最近一次成功导入时间"`
	CreatedBy        uint64     `json:"created_by" gorm:"comment:创建者UserID"`
	UpdatedBy        uint64     `json:"updated_by" gorm:"comment:更新者UserID"`
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime;comment:创建时间"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"autoUpdateTime;comment:更新时间"`
}

// TableName 定义数据库表名
func (ImportJob) TableName() string {
	return "bom_import_jobs"
}

// EventType 导入任务事件
type EventType string

const (
	EventQueued       EventType = "queued"
	EventStarted      EventType = "started"
	EventStepsPlanned EventType = "steps_planned"
	EventProgressed   EventType = "progressed"
	EventSucceeded    EventType = "succeeded"
	EventFailed       EventType = "failed"
)

// JobEvent 驱动ImportJob状态迁移的事件
type JobEvent struct {
	Type        EventType
	JobID       string    // Queued
	Fingerprint string    // Queued: 请求时的指纹；Succeeded: 实际导入文件的指纹
	Operator    uint64    // 记录到 UpdatedBy
	Steps       int       // StepsPlanned: 总步数；Progressed: 已处理步数
	Message     string    // Failed
	At          time.Time // Succeeded
}

// Transition 根据当前记录和事件计算新记录
// 纯函数：不修改入参，不允许的迁移返回 ErrInvalidTransition
//
//	waiting    --Started-->   processing --Succeeded--> done
//	processing --Failed-->    failed
//	done|failed --Queued-->   waiting
func Transition(current ImportJob, event JobEvent) (ImportJob, error) {
	next := current
	if event.Operator != 0 {
		next.UpdatedBy = event.Operator
	}

	switch event.Type {
	case EventQueued:
		if current.Status == JobProcessing {
			return current, ErrImportInProgress
		}
		if current.Status == "" {
			next.CreatedBy = event.Operator
		}
		next.Status = JobWaiting
		next.JobID = event.JobID
		next.BOMFileEtag = event.Fingerprint
		next.TotalSteps = 0
		next.ProcessedSteps = 0
		next.ErrorMessage = nil

	case EventStarted:
		// processing -> processing 为队列重投递，整个任务从头执行
		if !current.Status.in(JobWaiting, JobFailed, JobProcessing) {
			return current, invalidTransition(current.Status, event.Type)
		}
		next.Status = JobProcessing
		next.TotalSteps = 0
		next.ProcessedSteps = 0
		next.ErrorMessage = nil

	case EventStepsPlanned:
		if current.Status != JobProcessing {
			return current, invalidTransition(current.Status, event.Type)
		}
		if event.Steps < 0 {
			return current, fmt.Errorf("%w: negative total steps %d", ErrInvalidTransition, event.Steps)
		}
		next.TotalSteps = event.Steps
		next.ProcessedSteps = 0

	case EventProgressed:
		if current.Status != JobProcessing {
			return current, invalidTransition(current.Status, event.Type)
		}
		steps := event.Steps
		if steps > current.TotalSteps {
			steps = current.TotalSteps
		}
		if steps > current.ProcessedSteps {
			next.ProcessedSteps = steps
		}

	case EventSucceeded:
		if current.Status != JobProcessing {
			return current, invalidTransition(current.Status, event.Type)
		}
		at := event.At
		if at.IsZero() {
			at = time.Now()
		}
		next.Status = JobDone
		if event.Fingerprint != "" {
			next.BOMFileEtag = event.Fingerprint
		}
		next.ProcessedSteps = current.TotalSteps
		next.ErrorMessage = nil
		next.LatestImportedAt = &at

	case EventFailed:
		if !current.Status.in(JobWaiting, JobProcessing) {
			return current, invalidTransition(current.Status, event.Type)
		}
		msg := event.Message
		if msg == "" {
			msg = "unknown error"
		}
		next.Status = JobFailed
		next.ErrorMessage = &msg

	default:
		return current, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event.Type)
	}

	return next, nil
}

func (s JobStatus) in(statuses ...JobStatus) bool {
	for _, candidate := range statuses {
		if s == candidate {
			return true
		}
	}
	return false
}

func invalidTransition(from JobStatus, event EventType) error {
	if from == "" {
		from = "none"
	}
	return fmt.Errorf("%w: %s on %s job", ErrInvalidTransition, event, from)
}

// Percentage 计算导入进度百分比
// total 为 0 时返回 0；done 状态固定为 100
func Percentage(status JobStatus, processed, total int) float64 {
	if status == JobDone {
		return 100
	}
	if total <= 0 {
		return 0
	}
	pct := float64(processed*100) / float64(total)
	if pct > 100 {
		return 100
	}
	return pct
}

// JobProgress 执行中任务的瞬时进度，只用于观察，不参与流程控制
type JobProgress struct {
	JobID          string    `json:"job_id"`
	ProjectID      uint64    `json:"project_id"`
	ProcessedSteps int       `json:"processed_steps"`
	TotalSteps     int       `json:"total_steps"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ImportStatus 导入状态查询结果
type ImportStatus struct {
	ProjectID        uint64     `json:"project_id"`
	JobID            string     `json:"job_id"`
	Status           JobStatus  `json:"status"`
	ProcessedSteps   int        `json:"processed_steps"`
	TotalSteps       int        `json:"total_steps"`
	Percentage       float64    `json:"percentage"`
	ErrorMessage     *string    `json:"error_message"`
	LatestImportedAt *time.Time `json:"latest_imported_at"`
}
