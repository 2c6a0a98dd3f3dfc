package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/db"
)

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const recordCols = `id, patient_id, title, type, to_char(record_date, 'YYYY-MM-DD'), description,
	authoring_doctor_id, COALESCE(authoring_doctor_name, ''), prescriptions, attachment_ref, created_at, updated_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	rec.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_records (id, patient_id, title, type, record_date, description,
			authoring_doctor_id, authoring_doctor_name, prescriptions, attachment_ref)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		rec.ID, rec.PatientID, rec.Title, string(rec.Type), rec.Date, rec.Description,
		rec.AuthoringDoctorID, rec.AuthoringDoctorName, prescriptionsOrEmpty(rec.Prescriptions), rec.AttachmentRef,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert medical record: %w", err)
	}
	return nil
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_records WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("medical record")
		}
		return nil, fmt.Errorf("get medical record: %w", err)
	}
	return rec, nil
}

func (r *recordRepoPG) Update(ctx context.Context, rec *MedicalRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_records SET title = $2, type = $3, record_date = $4::date, description = $5,
			prescriptions = $6, attachment_ref = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.Title, string(rec.Type), rec.Date, rec.Description,
		prescriptionsOrEmpty(rec.Prescriptions), rec.AttachmentRef,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("medical record")
		}
		return fmt.Errorf("update medical record: %w", err)
	}
	return nil
}

func (r *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medical_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete medical record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("medical record")
	}
	return nil
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicalRecord, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM medical_records WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list medical records: %w", err)
	}
	defer rows.Close()

	out := []*MedicalRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medical record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *recordRepoPG) PatientsAuthoredBy(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id FROM medical_records
		WHERE authoring_doctor_id = $1
		GROUP BY patient_id
		ORDER BY MIN(seq)`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list authored patients: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan patient id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *recordRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count medical records: %w", err)
	}
	return n, nil
}

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var rec MedicalRecord
	var typ string
	err := row.Scan(
		&rec.ID, &rec.PatientID, &rec.Title, &typ, &rec.Date, &rec.Description,
		&rec.AuthoringDoctorID, &rec.AuthoringDoctorName, &rec.Prescriptions, &rec.AttachmentRef,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = RecordType(typ)
	return &rec, nil
}

func prescriptionsOrEmpty(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
