package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/supabase-community/supabase-go"
)

const (
	runsTable    = "kulai_runs"
	exportsTable = "kulai_exports"
)

type Client struct {
	supabase *supabase.Client
	log      zerolog.Logger
}

// NewClient - Supabase 클라이언트 생성
func NewClient(url, serviceKey string, log zerolog.Logger) (*Client, error) {
	supabaseClient, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &Client{
		supabase: supabaseClient,
		log:      log.With().Str("component", "database").Logger(),
	}, nil
}

// RunRow - kulai_runs 레코드
type RunRow struct {
	SessionID    string    `json:"session_id"`
	RunStatus    string    `json:"run_status"`
	TotalSteps   int       `json:"total_steps"`
	Succeeded    int       `json:"succeeded_items"`
	Failed       int       `json:"failed_items"`
	ErrorMessage *string   `json:"error_message"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// InsertRun - 실행 요약 저장
func (c *Client) InsertRun(ctx context.Context, row RunRow) error {
	c.log.Debug().Str("session", row.SessionID).Str("status", row.RunStatus).Msg("💾 Inserting run record")

	_, _, err := c.supabase.From(runsTable).
		Insert(row, false, "", "", "").
		Execute()

	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}

	c.log.Info().Str("session", row.SessionID).Int("succeeded", row.Succeeded).Int("failed", row.Failed).Msg("✅ Run record saved")
	return nil
}

// ListRuns - 세션의 최근 실행 기록 조회
func (c *Client) ListRuns(ctx context.Context, sessionID string, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	data, _, err := c.supabase.From(runsTable).
		Select("*", "exact", false).
		Eq("session_id", sessionID).
		Limit(limit, "").
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", runsTable, err)
	}

	var rows []RunRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse run rows: %w", err)
	}
	return rows, nil
}

// ExportRow - kulai_exports 레코드 (내보낸 결과 이미지)
type ExportRow struct {
	SessionID   string `json:"session_id"`
	ResultID    string `json:"result_id"`
	FileName    string `json:"file_name"`
	FilePath    string `json:"file_path"`
	FileSize    int64  `json:"file_size"`
	FileType    string `json:"file_type"`
	StorageType string `json:"storage_type"`
}

// InsertExport - export 기록 저장
func (c *Client) InsertExport(ctx context.Context, row ExportRow) error {
	c.log.Debug().Str("path", row.FilePath).Msg("💾 Creating export record")

	_, _, err := c.supabase.From(exportsTable).
		Insert(row, false, "", "", "").
		Execute()

	if err != nil {
		return fmt.Errorf("failed to insert export record: %w", err)
	}

	c.log.Info().Str("result", row.ResultID).Str("path", row.FilePath).Msg("✅ Export record created")
	return nil
}
