package studio

import (
	"context"

	"kulai-character-server/modules/common/database"
	"kulai-character-server/modules/pipeline"
)

// RunStore - 실행 기록 저장/조회 (database.Client 가 구현)
type RunStore interface {
	InsertRun(ctx context.Context, row database.RunRow) error
	ListRuns(ctx context.Context, sessionID string, limit int) ([]database.RunRow, error)
}

// ExportLedger - export 기록 저장 (database.Client 가 구현)
type ExportLedger interface {
	InsertExport(ctx context.Context, row database.ExportRow) error
}

// runRecorder - pipeline.Recorder 를 RunStore 로 연결
type runRecorder struct {
	runs RunStore
}

func NewRecorder(runs RunStore) pipeline.Recorder {
	return &runRecorder{runs: runs}
}

func (r *runRecorder) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	row := database.RunRow{
		SessionID:  rec.SessionID,
		RunStatus:  string(rec.Status),
		TotalSteps: rec.Total,
		Succeeded:  rec.Succeeded,
		Failed:     rec.Failed,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if rec.Error != "" {
		msg := rec.Error
		row.ErrorMessage = &msg
	}
	return r.runs.InsertRun(ctx, row)
}
