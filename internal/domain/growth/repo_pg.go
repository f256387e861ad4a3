package growth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/db"
)

type growthRecordRepoPG struct{ pool *pgxpool.Pool }

func NewGrowthRecordRepoPG(pool *pgxpool.Pool) GrowthRecordRepository {
	return &growthRecordRepoPG{pool: pool}
}

func (r *growthRecordRepoPG) conn(ctx context.Context) db.Querier {
	return db.ConnFromContext(ctx, r.pool)
}

const grCols = `id, fhir_id, patient_id, measured_at, gender, age_days, age_months,
	weight_kg, height_cm, head_circumference_cm, bmi,
	weight_for_age_z, height_for_age_z, hc_for_age_z, bmi_for_age_z,
	notes, recorded_by, version_id, created_at, updated_at`

func (r *growthRecordRepoPG) scanRow(row pgx.Row) (*GrowthRecord, error) {
	var g GrowthRecord
	err := row.Scan(&g.ID, &g.FHIRID, &g.PatientID, &g.MeasuredAt, &g.Gender, &g.AgeDays, &g.AgeMonths,
		&g.WeightKg, &g.HeightCm, &g.HeadCircumferenceCm, &g.BMI,
		&g.WeightForAgeZ, &g.HeightForAgeZ, &g.HeadCircumferenceForAgeZ, &g.BMIForAgeZ,
		&g.Notes, &g.RecordedBy, &g.VersionID, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan growth record: %w", err)
	}
	return &g, nil
}

func (r *growthRecordRepoPG) Create(ctx context.Context, g *GrowthRecord) error {
	g.ID = uuid.New()
	if g.FHIRID == "" {
		g.FHIRID = g.ID.String()
	}
	if g.VersionID == 0 {
		g.VersionID = 1
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO growth_record (id, fhir_id, patient_id, measured_at, gender, age_days, age_months,
			weight_kg, height_cm, head_circumference_cm, bmi,
			weight_for_age_z, height_for_age_z, hc_for_age_z, bmi_for_age_z,
			notes, recorded_by, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		g.ID, g.FHIRID, g.PatientID, g.MeasuredAt, g.Gender, g.AgeDays, g.AgeMonths,
		g.WeightKg, g.HeightCm, g.HeadCircumferenceCm, g.BMI,
		g.WeightForAgeZ, g.HeightForAgeZ, g.HeadCircumferenceForAgeZ, g.BMIForAgeZ,
		g.Notes, g.RecordedBy, g.VersionID,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *growthRecordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*GrowthRecord, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+grCols+` FROM growth_record WHERE id = $1`, id))
}

func (r *growthRecordRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*GrowthRecord, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+grCols+` FROM growth_record WHERE fhir_id = $1`, fhirID))
}

func (r *growthRecordRepoPG) Update(ctx context.Context, g *GrowthRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE growth_record SET measured_at=$2, gender=$3, age_days=$4, age_months=$5,
			weight_kg=$6, height_cm=$7, head_circumference_cm=$8, bmi=$9,
			weight_for_age_z=$10, height_for_age_z=$11, hc_for_age_z=$12, bmi_for_age_z=$13,
			notes=$14, version_id=$15, updated_at=NOW()
		WHERE id = $1 AND version_id = $15 - 1
		RETURNING updated_at`,
		g.ID, g.MeasuredAt, g.Gender, g.AgeDays, g.AgeMonths,
		g.WeightKg, g.HeightCm, g.HeadCircumferenceCm, g.BMI,
		g.WeightForAgeZ, g.HeightForAgeZ, g.HeadCircumferenceForAgeZ, g.BMIForAgeZ,
		g.Notes, g.VersionID,
	).Scan(&g.UpdatedAt)
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM growth_record WHERE id = $1)`, g.ID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrNotFound
}

func (r *growthRecordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM growth_record WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *growthRecordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*GrowthRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM growth_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+grCols+` FROM growth_record WHERE patient_id = $1
		ORDER BY measured_at ASC, created_at ASC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*GrowthRecord
	for rows.Next() {
		g, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, g)
	}
	return items, total, rows.Err()
}

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.ConnFromContext(ctx, r.pool).QueryRow(ctx,
		`SELECT id, fhir_id, gender, birth_date FROM patient WHERE id = $1`, id,
	).Scan(&p.ID, &p.FHIRID, &p.Gender, &p.BirthDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load patient %s: %w", id, err)
	}
	return &p, nil
}
