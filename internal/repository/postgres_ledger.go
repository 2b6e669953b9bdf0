package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

type postgresLedgerStore struct {
	*PostgresRepository
}

// NewPostgresLedgerStore keeps fingerprints in the processed_fingerprints table.
func NewPostgresLedgerStore(db *sql.DB, logger zerolog.Logger) LedgerStore {
	return &postgresLedgerStore{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (s *postgresLedgerStore) Name() string {
	return "postgres"
}

func (s *postgresLedgerStore) LoadAll(ctx context.Context) (map[models.SubmissionIdentity][]models.AttemptFingerprint, error) {
	query := `
		SELECT course_id, assignment_id, user_id, attempt, content_hash
		FROM processed_fingerprints
		ORDER BY course_id, assignment_id, user_id, attempt, content_hash
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.SubmissionIdentity][]models.AttemptFingerprint)
	for rows.Next() {
		var id models.SubmissionIdentity
		var fp models.AttemptFingerprint
		if err := rows.Scan(&id.CourseID, &id.AssignmentID, &id.UserID, &fp.Attempt, &fp.ContentHash); err != nil {
			return nil, err
		}
		out[id] = append(out[id], fp)
	}

	return out, rows.Err()
}

func (s *postgresLedgerStore) Append(ctx context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) error {
	query := `
		INSERT INTO processed_fingerprints (
			course_id, assignment_id, user_id, attempt, content_hash, processed_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (course_id, assignment_id, user_id, attempt, content_hash) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, id.CourseID, id.AssignmentID, id.UserID, fp.Attempt, fp.ContentHash)
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("identity", id.String()).
		Int("attempt", fp.Attempt).
		Str("fingerprint", fp.Prefix()).
		Msg("Fingerprint persisted")

	return nil
}
