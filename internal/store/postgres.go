package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"examsync/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(data)); err != nil {
			return fmt.Errorf("migration %s: %w", n, err)
		}
	}
	return nil
}

const apptCols = `id::text, external_id::text, clinician_name, patient_name, start_at, end_at, status, sync_state, sync_error, last_action, platform_refs, created_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (model.Appointment, error) {
	var a model.Appointment
	var clin, pat, syncErr, lastAction sql.NullString
	var startAt, endAt sql.NullTime
	var refs []byte
	if err := row.Scan(&a.ID, &a.ExternalID, &clin, &pat, &startAt, &endAt, &a.Status, &a.SyncState, &syncErr, &lastAction, &refs, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, err
	}
	a.ClinicianName = clin.String
	a.PatientName = pat.String
	a.SyncError = syncErr.String
	a.LastAction = lastAction.String
	if startAt.Valid {
		a.StartAt = startAt.Time
	}
	if endAt.Valid {
		a.EndAt = endAt.Time
	}
	if len(refs) > 0 {
		var pr model.PlatformRefs
		if err := json.Unmarshal(refs, &pr); err == nil {
			a.PlatformRefs = &pr
		}
	}
	return a, nil
}

func (p *Postgres) CreateAppointment(ctx context.Context, in model.AppointmentInput) (model.Appointment, error) {
	id := uuid.New().String()
	extID := uuid.New().String()
	var startAt, endAt any
	if in.StartAt != nil {
		startAt = *in.StartAt
	}
	if in.EndAt != nil {
		endAt = *in.EndAt
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO appointments (id, external_id, clinician_name, patient_name, start_at, end_at, status, sync_state, last_action, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())`,
		id, extID, nullIfEmpty(in.ClinicianName), nullIfEmpty(in.PatientName), startAt, endAt, model.StatusScheduled, model.SyncPending, string(model.ActionCreate))
	if err != nil {
		return model.Appointment{}, err
	}
	return p.GetAppointment(ctx, id)
}

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+apptCols+` FROM appointments WHERE id=$1`, id)
	return scanAppointment(row)
}

func (p *Postgres) GetAppointmentByExternalID(ctx context.Context, externalID string) (model.Appointment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+apptCols+` FROM appointments WHERE external_id=$1`, externalID)
	return scanAppointment(row)
}

func (p *Postgres) ListAppointments(ctx context.Context, syncState, status, cursor string, limit int) ([]model.Appointment, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT ` + apptCols + ` FROM appointments WHERE 1=1`
	args := []any{}
	if syncState != "" {
		args = append(args, syncState)
		q += fmt.Sprintf(" AND sync_state=$%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(" AND id::text > $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Appointment{}
	var last string
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, a)
		last = a.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) UpdateAppointment(ctx context.Context, id string, in model.AppointmentInput) (model.Appointment, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE appointments SET
			clinician_name = COALESCE(NULLIF($1,''), clinician_name),
			patient_name   = COALESCE(NULLIF($2,''), patient_name),
			start_at       = COALESCE($3, start_at),
			end_at         = COALESCE($4, end_at),
			status         = $5, sync_state = $6, sync_error = NULL, last_action = $7, updated_at = now()
		WHERE id=$8`,
		in.ClinicianName, in.PatientName, timePtr(in.StartAt), timePtr(in.EndAt),
		model.StatusRescheduled, model.SyncPending, string(model.ActionUpdate), id)
	if err != nil {
		return model.Appointment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Appointment{}, ErrNotFound
	}
	return p.GetAppointment(ctx, id)
}

func (p *Postgres) CancelAppointment(ctx context.Context, id string) (model.Appointment, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE appointments SET status=$1, sync_state=$2, sync_error=NULL, last_action=$3, updated_at=now() WHERE id=$4`,
		model.StatusCanceled, model.SyncPending, string(model.ActionCancel), id)
	if err != nil {
		return model.Appointment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Appointment{}, ErrNotFound
	}
	return p.GetAppointment(ctx, id)
}

func (p *Postgres) MarkSyncPending(ctx context.Context, id string, action model.SyncAction) (model.Appointment, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE appointments SET sync_state=$1, sync_error=NULL, last_action=COALESCE(NULLIF($2,''), last_action), updated_at=now() WHERE id=$3`,
		model.SyncPending, string(action), id)
	if err != nil {
		return model.Appointment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Appointment{}, ErrNotFound
	}
	return p.GetAppointment(ctx, id)
}

func (p *Postgres) MarkInSync(ctx context.Context, id string, refs *model.PlatformRefs) error {
	var refsJSON any
	if refs != nil {
		refsJSON = toJSON(refs)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE appointments SET sync_state=$1, sync_error=NULL, platform_refs=COALESCE($2, platform_refs), updated_at=now() WHERE id=$3 AND sync_state=$4`,
		model.SyncInSync, refsJSON, id, model.SyncPending)
	if err != nil {
		return err
	}
	return p.transitioned(ctx, res, id)
}

func (p *Postgres) MarkSyncFailed(ctx context.Context, id string, detail string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE appointments SET sync_state=$1, sync_error=$2, updated_at=now() WHERE id=$3 AND sync_state=$4`,
		model.SyncError, detail, id, model.SyncPending)
	if err != nil {
		return err
	}
	return p.transitioned(ctx, res, id)
}

// transitioned distinguishes a missing row from a row no longer pending
// when a guarded sync-state update matched nothing.
func (p *Postgres) transitioned(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotPending
}

func (p *Postgres) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+apptCols+` FROM appointments WHERE sync_state=$1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		model.SyncPending, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertResultRecord(ctx context.Context, rec model.ResultRecord) (model.ResultRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO result_records (id, appointment_id, external_id, form, content_kind, blob_key, summary, unlinked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, nullIfEmpty(rec.AppointmentID), nullIfEmpty(rec.ExternalID), string(rec.Form), rec.ContentKind, rec.BlobKey, toJSON(rec.Summary), rec.Unlinked, rec.CreatedAt)
	if err != nil {
		return model.ResultRecord{}, err
	}
	return rec, nil
}

const resultCols = `id::text, appointment_id::text, external_id, form, content_kind, blob_key, summary, unlinked, created_at`

func scanResult(row interface{ Scan(...any) error }) (model.ResultRecord, error) {
	var r model.ResultRecord
	var apptID, extID sql.NullString
	var form string
	var summary []byte
	if err := row.Scan(&r.ID, &apptID, &extID, &form, &r.ContentKind, &r.BlobKey, &summary, &r.Unlinked, &r.CreatedAt); err != nil {
		return r, err
	}
	r.AppointmentID = apptID.String
	r.ExternalID = extID.String
	r.Form = model.Form(form)
	if len(summary) > 0 {
		_ = json.Unmarshal(summary, &r.Summary)
	}
	return r, nil
}

func (p *Postgres) ListResultRecords(ctx context.Context, appointmentID string, limit int) ([]model.ResultRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+resultCols+` FROM result_records WHERE appointment_id=$1 ORDER BY created_at LIMIT $2`, appointmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ResultRecord{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ListUnlinkedResults(ctx context.Context, cursor string, limit int) ([]model.ResultRecord, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+resultCols+` FROM result_records WHERE unlinked AND id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+resultCols+` FROM result_records WHERE unlinked ORDER BY id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.ResultRecord{}
	var last string
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
		last = r.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func toJSON(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
