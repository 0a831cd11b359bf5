// Package postgres provides pgx-backed persistence for users, prediction
// records and outbox events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/diapredict/internal/domain"
	"example.com/diapredict/internal/observability"
	"example.com/diapredict/internal/outbox"
)

const uniqueViolation = "23505"

// Repository implements domain.UserRepository and domain.PredictionRepository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `user_id, username, password_hash, pregnancies, weight_kg, height_m, age, created_at`

// CreateUser inserts a new user. Username uniqueness is enforced by the
// store; a collision surfaces as domain.ErrDuplicateUsername.
func (r *Repository) CreateUser(ctx context.Context, user domain.User) error {
	const stmt = `INSERT INTO users (` + userColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := r.pool.Exec(ctx, stmt,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Pregnancies,
		user.WeightKg,
		user.HeightM,
		user.Age,
		user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateUsername
		}
		return err
	}
	return nil
}

// UserByID fetches a user by identifier. Malformed identifiers resolve to
// not-found rather than a distinguishable error.
func (r *Repository) UserByID(ctx context.Context, id string) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	const query = `SELECT ` + userColumns + ` FROM users WHERE user_id=$1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// UserByUsername fetches a user by exact, case-sensitive username.
func (r *Repository) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	return r.scanUser(r.pool.QueryRow(ctx, query, username))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Pregnancies,
		&user.WeightKg,
		&user.HeightM,
		&user.Age,
		&user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

const predictionColumns = `prediction_id, owner_id, pregnancies, glucose, blood_pressure, skin_thickness,
        insulin, bmi, diabetes_pedigree_function, age, result_class, confidence, created_at`

// CreatePrediction persists the record and enqueues its outbox event inside
// a single transaction.
func (r *Repository) CreatePrediction(ctx context.Context, record domain.PredictionRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO predictions (` + predictionColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = tx.Exec(ctx, stmt,
		record.ID,
		record.OwnerID,
		record.Features[domain.FeaturePregnancies],
		record.Features[domain.FeatureGlucose],
		record.Features[domain.FeatureBloodPressure],
		record.Features[domain.FeatureSkinThickness],
		record.Features[domain.FeatureInsulin],
		record.Features[domain.FeatureBMI],
		record.Features[domain.FeatureDiabetesPedigree],
		record.Features[domain.FeatureAge],
		record.ResultClass,
		record.Confidence,
		record.CreatedAt,
	)
	if err != nil {
		return err
	}

	if err = r.insertOutbox(ctx, tx, record); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}

	observability.RecordPredictionPersisted(record.CreatedAt)
	observability.RecordPrediction(record.RiskLevel())
	return nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, record domain.PredictionRecord) error {
	body, err := json.Marshal(outbox.PredictionCreated{
		PredictionID: record.ID,
		OwnerID:      record.OwnerID,
		ResultClass:  record.ResultClass,
		Confidence:   record.Confidence,
		RiskLevel:    record.RiskLevel(),
		CreatedAt:    record.CreatedAt,
	})
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		"prediction",
		record.ID,
		outbox.EventPredictionCreated,
		outbox.TopicPredictions,
		record.OwnerID,
		body,
		record.ID+":"+outbox.EventPredictionCreated,
	)
	return err
}

// ListByOwner returns the owner's records ordered newest-first with keyset
// pagination. Owners with no records get an empty slice, never an error.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, cursor *domain.Cursor, limit int) ([]domain.PredictionRecord, *domain.Cursor, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return []domain.PredictionRecord{}, nil, nil
	}

	args := []interface{}{ownerID, limit}
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE owner_id=$1`

	if cursor != nil {
		query += ` AND (created_at, prediction_id) < ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query += ` ORDER BY created_at DESC, prediction_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.PredictionRecord, 0, limit)
	for rows.Next() {
		var rec domain.PredictionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OwnerID,
			&rec.Features[domain.FeaturePregnancies],
			&rec.Features[domain.FeatureGlucose],
			&rec.Features[domain.FeatureBloodPressure],
			&rec.Features[domain.FeatureSkinThickness],
			&rec.Features[domain.FeatureInsulin],
			&rec.Features[domain.FeatureBMI],
			&rec.Features[domain.FeatureDiabetesPedigree],
			&rec.Features[domain.FeatureAge],
			&rec.ResultClass,
			&rec.Confidence,
			&rec.CreatedAt,
		); err != nil {
			return nil, nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	return results, nextCursor, nil
}
