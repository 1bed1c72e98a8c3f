package bunstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/graphloom/graphloom/internal/database"
	"github.com/graphloom/graphloom/internal/database/models"
)

type BunStore struct {
	db *bun.DB
}

func NewBunStore(db *sql.DB, dialect schema.Dialect) (*BunStore, error) {
	bunDB := bun.NewDB(db, dialect)

	store := &BunStore{db: bunDB}

	// Create tables if they don't exist
	ctx := context.Background()
	if _, err := bunDB.NewCreateTable().Model((*models.PipelineRun)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create pipeline_runs table: %w", err)
	}
	if _, err := bunDB.NewCreateTable().Model((*models.RunStage)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create run_stages table: %w", err)
	}

	return store, nil
}

// RunRepository Implementation
func (s *BunStore) CreateRun(ctx context.Context, run *models.PipelineRun) (int64, error) {
	if _, err := s.db.NewInsert().Model(run).Exec(ctx); err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (s *BunStore) GetRunByID(ctx context.Context, id int64) (*models.PipelineRun, error) {
	run := new(models.PipelineRun)
	if err := s.db.NewSelect().Model(run).Where("id = ?", id).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *BunStore) GetLatestRun(ctx context.Context) (*models.PipelineRun, error) {
	run := new(models.PipelineRun)
	// id breaks created_at ties for runs started within the same instant.
	if err := s.db.NewSelect().Model(run).Order("created_at DESC").Order("id DESC").Limit(1).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *BunStore) UpdateRunStatus(ctx context.Context, runID int64, currentVersion int, status models.RunStatus, currentStage models.Stage, errorMsg string) error {
	res, err := s.db.NewUpdate().Model((*models.PipelineRun)(nil)).
		Set("status = ?", status).
		Set("current_stage = ?", currentStage).
		Set("error_message = ?", errorMsg).
		Set("version = version + 1").
		Set("updated_at = current_timestamp").
		Where("id = ? AND version = ?", runID, currentVersion).
		Exec(ctx)

	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrConcurrentUpdate
	}
	return nil
}

func (s *BunStore) UpsertStage(ctx context.Context, stage *models.RunStage) (int64, error) {
	if stage.ID == 0 {
		if _, err := s.db.NewInsert().Model(stage).Exec(ctx); err != nil {
			return 0, err
		}
	} else {
		if _, err := s.db.NewUpdate().Model(stage).WherePK().Exec(ctx); err != nil {
			return 0, err
		}
	}
	return stage.ID, nil
}

func (s *BunStore) GetRunStages(ctx context.Context, runID int64) ([]*models.RunStage, error) {
	var stages []*models.RunStage
	if err := s.db.NewSelect().Model(&stages).Where("run_id = ?", runID).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return stages, nil
}
