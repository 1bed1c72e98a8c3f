package database

import (
	"context"
	"errors"

	"github.com/graphloom/graphloom/internal/database/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected: version mismatch")
)

// RunRepository persists pipeline run manifests so operators can see what
// ran, how far it got, and what each stage produced.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.PipelineRun) (int64, error)
	GetRunByID(ctx context.Context, id int64) (*models.PipelineRun, error)
	GetLatestRun(ctx context.Context) (*models.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, runID int64, currentVersion int, status models.RunStatus, currentStage models.Stage, errorMsg string) error

	UpsertStage(ctx context.Context, stage *models.RunStage) (int64, error)
	GetRunStages(ctx context.Context, runID int64) ([]*models.RunStage, error)
}
