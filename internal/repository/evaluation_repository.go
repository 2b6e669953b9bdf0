package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

type EvaluationRepository interface {
	Create(ctx context.Context, report *models.EvaluationReport) error
	Update(ctx context.Context, report *models.EvaluationReport) error
	ListByIdentity(ctx context.Context, id models.SubmissionIdentity, limit int) ([]models.EvaluationReport, error)
	Ping(ctx context.Context) error
}

type evaluationRepository struct {
	*PostgresRepository
}

func NewEvaluationRepository(db *sql.DB, logger zerolog.Logger) EvaluationRepository {
	return &evaluationRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *evaluationRepository) Create(ctx context.Context, report *models.EvaluationReport) error {
	query := `
		INSERT INTO evaluation_reports (
			id, course_id, assignment_id, user_id, submission_id, attempt,
			content_hash, status, late, late_minutes, penalty_percent,
			error_message, comment_preview, archive_key, details,
			processing_time_ms, created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		report.ID,
		report.CourseID,
		report.AssignmentID,
		report.UserID,
		report.SubmissionID,
		report.Attempt,
		report.ContentHash,
		report.Status,
		report.Late,
		report.LateMinutes,
		report.PenaltyPercent,
		report.ErrorMessage,
		report.CommentPreview,
		report.ArchiveKey,
		nullableJSON(report.Details),
		report.ProcessingTimeMs,
		report.CreatedAt,
		report.CompletedAt,
	)

	return err
}

func (r *evaluationRepository) Update(ctx context.Context, report *models.EvaluationReport) error {
	query := `
		UPDATE evaluation_reports
		SET status = $2,
			late = $3,
			late_minutes = $4,
			penalty_percent = $5,
			error_message = $6,
			comment_preview = $7,
			archive_key = $8,
			details = $9,
			processing_time_ms = $10,
			completed_at = $11
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		report.ID,
		report.Status,
		report.Late,
		report.LateMinutes,
		report.PenaltyPercent,
		report.ErrorMessage,
		report.CommentPreview,
		report.ArchiveKey,
		nullableJSON(report.Details),
		report.ProcessingTimeMs,
		report.CompletedAt,
	)

	return err
}

func (r *evaluationRepository) ListByIdentity(ctx context.Context, id models.SubmissionIdentity, limit int) ([]models.EvaluationReport, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id, course_id, assignment_id, user_id, submission_id, attempt,
			content_hash, status, late, late_minutes, penalty_percent,
			error_message, comment_preview, archive_key, details,
			processing_time_ms, created_at, completed_at
		FROM evaluation_reports
		WHERE course_id = $1 AND assignment_id = $2 AND user_id = $3
		ORDER BY created_at DESC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, id.CourseID, id.AssignmentID, id.UserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.EvaluationReport
	for rows.Next() {
		report, err := r.scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}

	return reports, rows.Err()
}

func (r *evaluationRepository) scanReport(rows *sql.Rows) (*models.EvaluationReport, error) {
	report := &models.EvaluationReport{}
	var errorMessage sql.NullString
	var archiveKey sql.NullString
	var commentPreview sql.NullString
	var details []byte
	var processingTimeMs sql.NullInt64
	var completedAt sql.NullTime

	err := rows.Scan(
		&report.ID,
		&report.CourseID,
		&report.AssignmentID,
		&report.UserID,
		&report.SubmissionID,
		&report.Attempt,
		&report.ContentHash,
		&report.Status,
		&report.Late,
		&report.LateMinutes,
		&report.PenaltyPercent,
		&errorMessage,
		&commentPreview,
		&archiveKey,
		&details,
		&processingTimeMs,
		&report.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		report.ErrorMessage = &errorMessage.String
	}
	if archiveKey.Valid {
		report.ArchiveKey = &archiveKey.String
	}
	report.CommentPreview = commentPreview.String
	if len(details) > 0 {
		report.Details = details
	}
	if processingTimeMs.Valid {
		ms := int(processingTimeMs.Int64)
		report.ProcessingTimeMs = &ms
	}
	if completedAt.Valid {
		report.CompletedAt = &completedAt.Time
	}

	return report, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
