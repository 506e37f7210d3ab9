// Package store is the Incident store client (spec §4.7): Postgres used
// as a document store, with Incident and ActionAudit persisted as JSONB
// columns so the schema can evolve without migrations on every field
// addition, the way the teacher's data layer treats its JSONB columns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fleetops/autopilot/internal/apperrors"
	"github.com/fleetops/autopilot/pkg/domain"
)

// Store implements the §4.7 contract against Postgres.
type Store struct {
	db             *sqlx.DB
	incidentsTable string
	actionsTable   string
}

// Open connects to Postgres via the pgx stdlib driver and wraps it in
// sqlx, matching the teacher's `sqlx.Open("pgx", dsn)` idiom.
func Open(ctx context.Context, dsn, incidentsTable, actionsTable string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "opening incident store connection")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "pinging incident store")
	}
	return &Store{db: db, incidentsTable: incidentsTable, actionsTable: actionsTable}, nil
}

// NewWithDB wraps an already-open sqlx.DB (used by callers wiring a
// sqlmock connection in tests).
func NewWithDB(db *sqlx.DB, incidentsTable, actionsTable string) *Store {
	return &Store{db: db, incidentsTable: incidentsTable, actionsTable: actionsTable}
}

func (s *Store) Close() error { return s.db.Close() }

// CreateIncident persists a newly-detected incident, document-style: the
// full record is the JSONB body, `id`, `status`, and `detected_at` are
// lifted out as queryable columns.
func (s *Store) CreateIncident(ctx context.Context, incident domain.Incident) (domain.Incident, error) {
	body, err := json.Marshal(incident)
	if err != nil {
		return domain.Incident{}, apperrors.Wrap(err, apperrors.ErrorTypeInvalidArgument, "encoding incident")
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, status, detected_at, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, body = EXCLUDED.body
	`, s.incidentsTable)

	if _, err := s.db.ExecContext(ctx, query, incident.ID, incident.Status, incident.DetectedAt, body); err != nil {
		return domain.Incident{}, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "inserting incident")
	}
	return incident, nil
}

// Transition validates the DAG (spec §3) before writing the new status
// and merged fields into the incident's JSONB body.
func (s *Store) Transition(ctx context.Context, id string, to domain.IncidentStatus, mutate func(*domain.Incident)) (domain.Incident, error) {
	incident, err := s.Get(ctx, id)
	if err != nil {
		return domain.Incident{}, err
	}

	if !domain.CanTransition(incident.Status, to) {
		return domain.Incident{}, apperrors.Newf(apperrors.ErrorTypeInvalidArgument,
			"cannot transition incident %s from %s to %s", id, incident.Status, to)
	}

	incident.Status = to
	if mutate != nil {
		mutate(&incident)
	}

	body, err := json.Marshal(incident)
	if err != nil {
		return domain.Incident{}, apperrors.Wrap(err, apperrors.ErrorTypeInvalidArgument, "encoding incident")
	}

	query := fmt.Sprintf(`UPDATE %s SET status = $1, body = $2 WHERE id = $3`, s.incidentsTable)
	if _, err := s.db.ExecContext(ctx, query, incident.Status, body, id); err != nil {
		return domain.Incident{}, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "updating incident")
	}
	return incident, nil
}

// RecordAction appends an audit row; actions are never updated once
// written (spec §4.7).
func (s *Store) RecordAction(ctx context.Context, audit domain.ActionAudit) error {
	body, err := json.Marshal(audit)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidArgument, "encoding action audit")
	}

	query := fmt.Sprintf(`INSERT INTO %s (incident_id, executed_at, body) VALUES ($1, $2, $3)`, s.actionsTable)
	if _, err := s.db.ExecContext(ctx, query, audit.IncidentID, audit.ExecutedAt, body); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "inserting action audit")
	}
	return nil
}

// Get fetches a single incident by id, returning a NotFound AppError on
// miss.
func (s *Store) Get(ctx context.Context, id string) (domain.Incident, error) {
	query := fmt.Sprintf(`SELECT body FROM %s WHERE id = $1`, s.incidentsTable)

	var body []byte
	if err := s.db.GetContext(ctx, &body, query, id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Incident{}, apperrors.NewNotFoundError(fmt.Sprintf("incident %s", id))
		}
		return domain.Incident{}, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "fetching incident")
	}

	var incident domain.Incident
	if err := json.Unmarshal(body, &incident); err != nil {
		return domain.Incident{}, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "decoding incident")
	}
	return incident, nil
}

// List returns incidents reverse-chronological by detected_at, optionally
// filtered by status, matching the original's `firestore_client.py`
// paging semantics exactly (spec's supplemented-features note).
func (s *Store) List(ctx context.Context, limit int, status *domain.IncidentStatus) ([]domain.Incident, error) {
	var (
		rows  *sqlx.Rows
		err   error
		query string
	)

	if status != nil {
		query = fmt.Sprintf(`SELECT body FROM %s WHERE status = $1 ORDER BY detected_at DESC LIMIT $2`, s.incidentsTable)
		rows, err = s.db.QueryxContext(ctx, query, *status, limit)
	} else {
		query = fmt.Sprintf(`SELECT body FROM %s ORDER BY detected_at DESC LIMIT $1`, s.incidentsTable)
		rows, err = s.db.QueryxContext(ctx, query, limit)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "listing incidents")
	}
	defer rows.Close()

	var incidents []domain.Incident
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "scanning incident row")
		}
		var incident domain.Incident
		if err := json.Unmarshal(body, &incident); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDataStore, "decoding incident row")
		}
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}
