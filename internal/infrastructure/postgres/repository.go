// Package postgres implements the schedule.Store persistence boundary with
// pgx, plus the transactional outbox used to publish dose events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pillwise/dose-engine/internal/domain/schedule"
	"github.com/pillwise/dose-engine/internal/infrastructure/redpanda"
)

// Repository provides routine and exception persistence. Composite writes
// (reschedule, routine replacement) are applied in one transaction, with the
// matching outbox entry written in the same transaction.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Migrate creates the schema.
func (r *Repository) Migrate(ctx context.Context) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS routine (
		id            BIGSERIAL PRIMARY KEY,
		routine_key   TEXT NOT NULL UNIQUE,
		profile_key   TEXT NOT NULL,
		name          TEXT NOT NULL,
		kind          TEXT NOT NULL,
		rule_data     JSONB NOT NULL,
		start_at      TIMESTAMPTZ NOT NULL,
		expiration_at TIMESTAMPTZ,
		status        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_routine_profile ON routine (profile_key);

	CREATE TABLE IF NOT EXISTS routine_status_event (
		id         BIGSERIAL PRIMARY KEY,
		routine_id BIGINT NOT NULL REFERENCES routine(id),
		seq        INT NOT NULL,
		status     TEXT NOT NULL,
		at         TIMESTAMPTZ NOT NULL,
		UNIQUE (routine_id, seq)
	);

	CREATE TABLE IF NOT EXISTS routine_version (
		id      BIGSERIAL PRIMARY KEY,
		old_key TEXT NOT NULL UNIQUE,
		new_key TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS dose_exception (
		id           BIGSERIAL PRIMARY KEY,
		routine_id   BIGINT NOT NULL REFERENCES routine(id),
		dose_at      TIMESTAMPTZ NOT NULL,
		quantity     INT NOT NULL,
		status       TEXT NOT NULL,
		confirmed_at TIMESTAMPTZ,
		UNIQUE (routine_id, dose_at)
	);
	CREATE INDEX IF NOT EXISTS idx_dose_exception_at ON dose_exception (dose_at);

	CREATE TABLE IF NOT EXISTS dose_status_event (
		id           BIGSERIAL PRIMARY KEY,
		exception_id BIGINT NOT NULL REFERENCES dose_exception(id),
		seq          INT NOT NULL,
		status       TEXT NOT NULL,
		at           TIMESTAMPTZ NOT NULL,
		UNIQUE (exception_id, seq)
	);

	CREATE TABLE IF NOT EXISTS dose_reschedule (
		id                  BIGSERIAL PRIMARY KEY,
		source_exception_id BIGINT NOT NULL UNIQUE REFERENCES dose_exception(id),
		moved_exception_id  BIGINT NOT NULL UNIQUE REFERENCES dose_exception(id)
	);

	CREATE TABLE IF NOT EXISTS outbox (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		topic          TEXT NOT NULL,
		message_key    TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		retry_count    INT NOT NULL DEFAULT 0,
		last_error     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_unprocessed ON outbox (created_at) WHERE processed_at IS NULL;

	CREATE TABLE IF NOT EXISTS inbox (
		idempotency_key TEXT PRIMARY KEY,
		handler_name    TEXT NOT NULL,
		status          TEXT NOT NULL,
		payload         JSONB,
		result          JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at      TIMESTAMPTZ
	);
	`
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ActiveProfiles returns every profile that has at least one active routine.
// The reminder planner iterates these.
func (r *Repository) ActiveProfiles(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT profile_key FROM routine WHERE status = 'active' ORDER BY profile_key`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// RoutineByKey implements schedule.RoutineStore.
func (r *Repository) RoutineByKey(ctx context.Context, profileKey, routineKey string) (*schedule.Routine, error) {
	routines, err := r.queryRoutines(ctx,
		`SELECT id, routine_key, profile_key, name, kind, rule_data, start_at, expiration_at, status
		 FROM routine WHERE profile_key = $1 AND routine_key = $2`, profileKey, routineKey)
	if err != nil {
		return nil, err
	}
	if len(routines) == 0 {
		return nil, fmt.Errorf("routine %s: %w", routineKey, schedule.ErrNotFound)
	}
	return routines[0], nil
}

// RoutinesByProfile implements schedule.RoutineStore.
func (r *Repository) RoutinesByProfile(ctx context.Context, profileKey string) ([]*schedule.Routine, error) {
	return r.queryRoutines(ctx,
		`SELECT id, routine_key, profile_key, name, kind, rule_data, start_at, expiration_at, status
		 FROM routine WHERE profile_key = $1 ORDER BY id ASC`, profileKey)
}

func (r *Repository) queryRoutines(ctx context.Context, query string, args ...any) ([]*schedule.Routine, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query routines: %w", err)
	}
	defer rows.Close()

	var routines []*schedule.Routine
	ids := []int64{}
	byID := map[int64]*schedule.Routine{}
	for rows.Next() {
		var rt schedule.Routine
		var data []byte
		if err := rows.Scan(&rt.ID, &rt.Key, &rt.ProfileKey, &rt.Name, &rt.Kind, &data,
			&rt.Start, &rt.Expiration, &rt.Status); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		rt.RuleData = json.RawMessage(data)
		rt.Start = rt.Start.UTC()
		if rt.Expiration != nil {
			e := rt.Expiration.UTC()
			rt.Expiration = &e
		}
		routines = append(routines, &rt)
		ids = append(ids, rt.ID)
		byID[rt.ID] = &rt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(routines) == 0 {
		return routines, nil
	}

	evRows, err := r.pool.Query(ctx,
		`SELECT routine_id, status, at FROM routine_status_event
		 WHERE routine_id = ANY($1) ORDER BY routine_id, seq ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("query routine events: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		var id int64
		var ev schedule.RoutineStatusEvent
		if err := evRows.Scan(&id, &ev.Status, &ev.At); err != nil {
			return nil, fmt.Errorf("scan routine event: %w", err)
		}
		ev.At = ev.At.UTC()
		byID[id].StatusEvents = append(byID[id].StatusEvents, ev)
	}
	return routines, evRows.Err()
}

// ExceptionsInRange implements schedule.ExceptionStore. Results are sorted
// ascending by (routineID, instant), the order MergeRange requires.
func (r *Repository) ExceptionsInRange(ctx context.Context, profileKey string, from, to time.Time) ([]schedule.Occurrence, error) {
	return r.queryExceptions(ctx,
		`SELECT e.id, e.routine_id, rt.routine_key, e.dose_at, e.quantity, e.status, e.confirmed_at
		 FROM dose_exception e JOIN routine rt ON rt.id = e.routine_id
		 WHERE rt.profile_key = $1 AND e.dose_at >= $2 AND e.dose_at <= $3
		 ORDER BY e.routine_id ASC, e.dose_at ASC`, profileKey, from, to)
}

// ExceptionAt implements schedule.ExceptionStore; nil means never materialized.
func (r *Repository) ExceptionAt(ctx context.Context, routineID int64, at time.Time) (*schedule.Occurrence, error) {
	occs, err := r.queryExceptions(ctx,
		`SELECT e.id, e.routine_id, rt.routine_key, e.dose_at, e.quantity, e.status, e.confirmed_at
		 FROM dose_exception e JOIN routine rt ON rt.id = e.routine_id
		 WHERE e.routine_id = $1 AND e.dose_at = $2`, routineID, at)
	if err != nil {
		return nil, err
	}
	if len(occs) == 0 {
		return nil, nil
	}
	return &occs[0], nil
}

// ExceptionsByRoutine implements schedule.ExceptionStore.
func (r *Repository) ExceptionsByRoutine(ctx context.Context, routineID int64) ([]schedule.Occurrence, error) {
	return r.queryExceptions(ctx,
		`SELECT e.id, e.routine_id, rt.routine_key, e.dose_at, e.quantity, e.status, e.confirmed_at
		 FROM dose_exception e JOIN routine rt ON rt.id = e.routine_id
		 WHERE e.routine_id = $1 ORDER BY e.dose_at ASC`, routineID)
}

func (r *Repository) queryExceptions(ctx context.Context, query string, args ...any) ([]schedule.Occurrence, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	var occs []schedule.Occurrence
	ids := []int64{}
	for rows.Next() {
		var o schedule.Occurrence
		if err := rows.Scan(&o.ID, &o.RoutineID, &o.RoutineKey, &o.At, &o.Quantity, &o.Status, &o.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		o.At = o.At.UTC()
		if o.ConfirmedAt != nil {
			c := o.ConfirmedAt.UTC()
			o.ConfirmedAt = &c
		}
		occs = append(occs, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(occs) == 0 {
		return occs, nil
	}

	byID := map[int64]*schedule.Occurrence{}
	for i := range occs {
		byID[occs[i].ID] = &occs[i]
	}
	evRows, err := r.pool.Query(ctx,
		`SELECT exception_id, status, at FROM dose_status_event
		 WHERE exception_id = ANY($1) ORDER BY exception_id, seq ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("query exception events: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		var id int64
		var ev schedule.DoseStatusEvent
		if err := evRows.Scan(&id, &ev.Status, &ev.At); err != nil {
			return nil, fmt.Errorf("scan exception event: %w", err)
		}
		ev.At = ev.At.UTC()
		byID[id].StatusEvents = append(byID[id].StatusEvents, ev)
	}
	return occs, evRows.Err()
}

// RescheduleBySource implements schedule.ExceptionStore.
func (r *Repository) RescheduleBySource(ctx context.Context, sourceID int64) (*schedule.Reschedule, error) {
	var rs schedule.Reschedule
	var movedID int64
	err := r.pool.QueryRow(ctx,
		`SELECT id, moved_exception_id FROM dose_reschedule WHERE source_exception_id = $1`,
		sourceID).Scan(&rs.ID, &movedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reschedule for exception %d: %w", sourceID, schedule.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query reschedule: %w", err)
	}

	for _, side := range []struct {
		id   int64
		into *schedule.Occurrence
	}{{sourceID, &rs.Source}, {movedID, &rs.Moved}} {
		occs, err := r.queryExceptions(ctx,
			`SELECT e.id, e.routine_id, rt.routine_key, e.dose_at, e.quantity, e.status, e.confirmed_at
			 FROM dose_exception e JOIN routine rt ON rt.id = e.routine_id
			 WHERE e.id = $1`, side.id)
		if err != nil {
			return nil, err
		}
		if len(occs) == 0 {
			return nil, fmt.Errorf("reschedule side %d: %w", side.id, schedule.ErrNotFound)
		}
		*side.into = occs[0]
	}
	return &rs, nil
}

// CreateRoutine implements schedule.Writer.
func (r *Repository) CreateRoutine(ctx context.Context, rt *schedule.Routine) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.insertRoutine(ctx, tx, rt); err != nil {
		return err
	}
	if err := r.writeRoutineEvent(ctx, tx, rt, "routine.created"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReplaceRoutine implements schedule.Writer: the superseded version, the
// replacement and the version link are one atomic unit.
func (r *Repository) ReplaceRoutine(ctx context.Context, old, replacement *schedule.Routine, link *schedule.RoutineVersion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.updateRoutineStatus(ctx, tx, old); err != nil {
		return err
	}
	if err := r.insertRoutine(ctx, tx, replacement); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO routine_version (old_key, new_key) VALUES ($1, $2)`,
		link.OldKey, link.NewKey); err != nil {
		return fmt.Errorf("insert version link: %w", err)
	}
	if err := r.writeRoutineEvent(ctx, tx, replacement, "routine.updated"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateRoutineStatus implements schedule.Writer.
func (r *Repository) UpdateRoutineStatus(ctx context.Context, rt *schedule.Routine) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.updateRoutineStatus(ctx, tx, rt); err != nil {
		return err
	}
	if err := r.writeRoutineEvent(ctx, tx, rt, "routine."+string(rt.Status)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveException implements schedule.Writer.
func (r *Repository) SaveException(ctx context.Context, occ *schedule.Occurrence) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.upsertException(ctx, tx, occ); err != nil {
		return err
	}
	if err := r.writeDoseEvent(ctx, tx, occ, "dose."+string(occ.Status)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveReschedule implements schedule.Writer: source, moved occurrence and
// link are persisted together so a reschedule never exists one-sided.
func (r *Repository) SaveReschedule(ctx context.Context, rs *schedule.Reschedule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.upsertException(ctx, tx, &rs.Source); err != nil {
		return err
	}
	if err := r.upsertException(ctx, tx, &rs.Moved); err != nil {
		return err
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO dose_reschedule (source_exception_id, moved_exception_id)
		 VALUES ($1, $2) RETURNING id`,
		rs.Source.ID, rs.Moved.ID).Scan(&rs.ID); err != nil {
		return fmt.Errorf("insert reschedule: %w", err)
	}
	if err := r.writeDoseEvent(ctx, tx, &rs.Source, "dose.rescheduled"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) insertRoutine(ctx context.Context, tx pgx.Tx, rt *schedule.Routine) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO routine (routine_key, profile_key, name, kind, rule_data, start_at, expiration_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		rt.Key, rt.ProfileKey, rt.Name, rt.Kind, []byte(rt.RuleData), rt.Start, rt.Expiration, rt.Status,
	).Scan(&rt.ID)
	if err != nil {
		return fmt.Errorf("insert routine: %w", err)
	}
	return r.insertRoutineEvents(ctx, tx, rt)
}

func (r *Repository) updateRoutineStatus(ctx context.Context, tx pgx.Tx, rt *schedule.Routine) error {
	if _, err := tx.Exec(ctx,
		`UPDATE routine SET status = $1 WHERE id = $2`, rt.Status, rt.ID); err != nil {
		return fmt.Errorf("update routine status: %w", err)
	}
	return r.insertRoutineEvents(ctx, tx, rt)
}

// insertRoutineEvents writes the full event list; already-persisted prefixes
// are skipped via the (routine_id, seq) uniqueness, keeping history
// append-only.
func (r *Repository) insertRoutineEvents(ctx context.Context, tx pgx.Tx, rt *schedule.Routine) error {
	for i, ev := range rt.StatusEvents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO routine_status_event (routine_id, seq, status, at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (routine_id, seq) DO NOTHING`,
			rt.ID, i, ev.Status, ev.At); err != nil {
			return fmt.Errorf("insert routine event: %w", err)
		}
	}
	return nil
}

func (r *Repository) upsertException(ctx context.Context, tx pgx.Tx, occ *schedule.Occurrence) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO dose_exception (routine_id, dose_at, quantity, status, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (routine_id, dose_at) DO UPDATE
		 SET quantity = EXCLUDED.quantity, status = EXCLUDED.status, confirmed_at = EXCLUDED.confirmed_at
		 RETURNING id`,
		occ.RoutineID, occ.At, occ.Quantity, occ.Status, occ.ConfirmedAt,
	).Scan(&occ.ID)
	if err != nil {
		return fmt.Errorf("upsert exception: %w", err)
	}
	for i, ev := range occ.StatusEvents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO dose_status_event (exception_id, seq, status, at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (exception_id, seq) DO NOTHING`,
			occ.ID, i, ev.Status, ev.At); err != nil {
			return fmt.Errorf("insert exception event: %w", err)
		}
	}
	return nil
}

func (r *Repository) writeRoutineEvent(ctx context.Context, tx pgx.Tx, rt *schedule.Routine, eventType string) error {
	payload, err := json.Marshal(map[string]any{
		"routine_key": rt.Key,
		"profile_key": rt.ProfileKey,
		"name":        rt.Name,
		"kind":        rt.Kind,
		"status":      rt.Status,
	})
	if err != nil {
		return err
	}
	return WriteEntry(ctx, tx, &OutboxEntry{
		AggregateID:   rt.Key,
		AggregateType: "routine",
		EventType:     eventType,
		Payload:       payload,
		Topic:         redpanda.TopicDoseEvents,
		Key:           rt.ProfileKey,
	})
}

func (r *Repository) writeDoseEvent(ctx context.Context, tx pgx.Tx, occ *schedule.Occurrence, eventType string) error {
	payload, err := json.Marshal(map[string]any{
		"routine_key": occ.RoutineKey,
		"dose_at":     occ.At,
		"quantity":    occ.Quantity,
		"status":      occ.Status,
	})
	if err != nil {
		return err
	}
	return WriteEntry(ctx, tx, &OutboxEntry{
		AggregateID:   fmt.Sprintf("%s@%s", occ.RoutineKey, occ.At.Format(time.RFC3339)),
		AggregateType: "dose",
		EventType:     eventType,
		Payload:       payload,
		Topic:         redpanda.TopicDoseEvents,
		Key:           occ.RoutineKey,
	})
}
