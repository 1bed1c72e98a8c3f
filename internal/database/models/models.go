package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RunStatus represents the state of a pipeline run or one of its stages.
type RunStatus int

const (
	RunStatusPending    RunStatus = 0
	RunStatusProcessing RunStatus = 1
	RunStatusCompleted  RunStatus = 2
	RunStatusFailed     RunStatus = 3
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusPending:
		return "pending"
	case RunStatusProcessing:
		return "processing"
	case RunStatusCompleted:
		return "completed"
	case RunStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage represents the individual stages of a pipeline run.
type Stage int

const (
	StageExtract   Stage = 0
	StageTransform Stage = 1
	StageLoad      Stage = 2
)

func (s Stage) String() string {
	switch s {
	case StageExtract:
		return "extract"
	case StageTransform:
		return "transform"
	case StageLoad:
		return "load"
	default:
		return "unknown"
	}
}

// PipelineRun is the manifest of one pipeline invocation.
type PipelineRun struct {
	bun.BaseModel `bun:"table:pipeline_runs,alias:pr"`

	ID           int64     `bun:",pk,autoincrement"`
	RunID        string    `bun:",unique,notnull"`
	MappingPath  string    `bun:",notnull"`
	Status       RunStatus `bun:",notnull"`
	Version      int       `bun:",notnull,default:1"`
	CurrentStage Stage     `bun:",nullzero"`
	ErrorMessage string    `bun:",nullzero"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// RunStage is the detailed log of a single stage of a run.
type RunStage struct {
	bun.BaseModel `bun:"table:run_stages,alias:rs"`

	ID        int64        `bun:",pk,autoincrement"`
	RunID     int64        `bun:",notnull"`
	Run       *PipelineRun `bun:"rel:belongs-to,join:run_id=id"`
	Name      Stage        `bun:",notnull"`
	Status    RunStatus    `bun:",notnull"`
	Metadata  string       `bun:",nullzero"` // JSON blob of stage counts
	ErrorLog  string       `bun:",nullzero"`
	CreatedAt time.Time    `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time    `bun:",nullzero,notnull,default:current_timestamp"`
}
