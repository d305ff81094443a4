package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, appointment_id, patient_id, doctor_id, symptoms, diagnosis, notes, status,
	completed_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, m *MedicalRecord) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_record (id, appointment_id, patient_id, doctor_id, symptoms, diagnosis, notes, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		m.ID, m.AppointmentID, m.PatientID, m.DoctorID, m.Symptoms, m.Diagnosis, m.Notes, m.Status,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_record WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_record WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM medical_record WHERE appointment_id = $1`, appointmentID))
}

func (r *repoPG) UpdateFindings(ctx context.Context, m *MedicalRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_record SET symptoms = $2, diagnosis = $3, notes = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS'
		RETURNING updated_at`,
		m.ID, m.Symptoms, m.Diagnosis, m.Notes,
	).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("medical record %s: %w", m.ID, workflow.ErrEncounterLocked)
	}
	return err
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, from, to workflow.RecordStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_record
		SET status = $3::text,
		    completed_at = CASE WHEN $3::text = 'COMPLETED' THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("medical record %s is no longer %s: %w", id, from, workflow.ErrInvalidTransition)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*MedicalRecord, int, error) {
	where, args := filterSQL(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_record`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM medical_record%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			recordCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*MedicalRecord
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func filterSQL(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.DoctorID != uuid.Nil {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.AppointmentID != uuid.Nil {
		add("appointment_id = $%d", f.AppointmentID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	err := row.Scan(&m.ID, &m.AppointmentID, &m.PatientID, &m.DoctorID, &m.Symptoms, &m.Diagnosis, &m.Notes,
		&m.Status, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// -- Status History --

func (r *repoPG) AddStatusHistory(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_record_status_history (id, medical_record_id, from_status, to_status, changed_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING changed_at`,
		h.ID, h.MedicalRecordID, h.FromStatus, h.ToStatus, h.ChangedBy,
	).Scan(&h.ChangedAt)
}

func (r *repoPG) GetStatusHistory(ctx context.Context, recordID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, medical_record_id, from_status, to_status, changed_by, changed_at
		FROM medical_record_status_history WHERE medical_record_id = $1 ORDER BY changed_at, id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.MedicalRecordID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// -- Line Lists --

type lineTable struct {
	header    string
	lines     string
	parentCol string
	itemCol   string
	dosage    bool
}

var lineTables = map[LineKind]lineTable{
	LinesService:      {header: "service_indication", lines: "service_indication_line", parentCol: "indication_id", itemCol: "service_id"},
	LinesPrescription: {header: "prescription", lines: "prescription_line", parentCol: "prescription_id", itemCol: "medication_id", dosage: true},
}

func tableFor(kind LineKind) (lineTable, error) {
	t, ok := lineTables[kind]
	if !ok {
		return lineTable{}, fmt.Errorf("unknown line kind %q", kind)
	}
	return t, nil
}

func (r *repoPG) ReplaceLines(ctx context.Context, kind LineKind, recordID uuid.UUID, lines []Line) (*LineSet, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	header := pgx.Identifier{t.header}.Sanitize()
	lineTbl := pgx.Identifier{t.lines}.Sanitize()
	q := r.conn(ctx)

	set := &LineSet{MedicalRecordID: recordID, Kind: kind, Lines: lines}
	err = q.QueryRow(ctx, `
		INSERT INTO `+header+` (id, medical_record_id) VALUES ($1,$2)
		ON CONFLICT (medical_record_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), recordID,
	).Scan(&set.ID, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", t.header, err)
	}

	if _, err := q.Exec(ctx, `DELETE FROM `+lineTbl+` WHERE `+t.parentCol+` = $1`, set.ID); err != nil {
		return nil, fmt.Errorf("clear %s: %w", t.lines, err)
	}

	cols := "id, " + t.parentCol + ", position, " + t.itemCol + ", name, quantity, unit_price, total"
	vals := "$1,$2,$3,$4,$5,$6,$7,$8"
	if t.dosage {
		cols += ", dosage"
		vals += ",$9"
	}
	insert := `INSERT INTO ` + lineTbl + ` (` + cols + `) VALUES (` + vals + `)`

	batch := &pgx.Batch{}
	for i, l := range lines {
		args := []interface{}{uuid.New(), set.ID, i, l.ItemID, l.Name, l.Quantity, l.UnitPrice, l.Total}
		if t.dosage {
			args = append(args, l.Dosage)
		}
		batch.Queue(insert, args...)
		set.Total += l.Total
	}
	if batch.Len() > 0 {
		br := q.SendBatch(ctx, batch)
		for range lines {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return nil, fmt.Errorf("insert %s: %w", t.lines, err)
			}
		}
		if err := br.Close(); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (r *repoPG) GetLines(ctx context.Context, kind LineKind, recordID uuid.UUID) (*LineSet, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	q := r.conn(ctx)

	set := &LineSet{MedicalRecordID: recordID, Kind: kind, Lines: []Line{}}
	err = q.QueryRow(ctx, `
		SELECT id, created_at, updated_at FROM `+pgx.Identifier{t.header}.Sanitize()+`
		WHERE medical_record_id = $1`, recordID,
	).Scan(&set.ID, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return nil, err
	}

	dosage := "''"
	if t.dosage {
		dosage = "dosage"
	}
	rows, err := q.Query(ctx, `
		SELECT `+t.itemCol+`, name, quantity, unit_price, total, `+dosage+`
		FROM `+pgx.Identifier{t.lines}.Sanitize()+`
		WHERE `+t.parentCol+` = $1 ORDER BY position`, set.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ItemID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Total, &l.Dosage); err != nil {
			return nil, err
		}
		set.Lines = append(set.Lines, l)
		set.Total += l.Total
	}
	return set, rows.Err()
}

// -- Skin Images --

const imageCols = `id, medical_record_id, image_type, storage_key, content_type, size_bytes, created_by, created_at`

func (r *repoPG) AddImage(ctx context.Context, img *SkinImage) error {
	img.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO skin_image (id, medical_record_id, image_type, storage_key, content_type, size_bytes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		img.ID, img.MedicalRecordID, img.ImageType, img.StorageKey, img.ContentType, img.SizeBytes, img.CreatedBy,
	).Scan(&img.CreatedAt)
}

func (r *repoPG) ListImages(ctx context.Context, recordID uuid.UUID) ([]*SkinImage, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+imageCols+` FROM skin_image WHERE medical_record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SkinImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (r *repoPG) GetImage(ctx context.Context, recordID, imageID uuid.UUID) (*SkinImage, error) {
	return scanImage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+imageCols+` FROM skin_image WHERE id = $1 AND medical_record_id = $2`, imageID, recordID))
}

func (r *repoPG) DeleteImage(ctx context.Context, recordID, imageID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM skin_image WHERE id = $1 AND medical_record_id = $2`, imageID, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanImage(row pgx.Row) (*SkinImage, error) {
	var img SkinImage
	err := row.Scan(&img.ID, &img.MedicalRecordID, &img.ImageType, &img.StorageKey, &img.ContentType,
		&img.SizeBytes, &img.CreatedBy, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}
