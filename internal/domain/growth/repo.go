package growth

import (
	"context"

	"github.com/google/uuid"
)

type GrowthRecordRepository interface {
	Create(ctx context.Context, r *GrowthRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*GrowthRecord, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*GrowthRecord, error)
	// Update stores r only while the stored version is r.VersionID-1 and
	// returns ErrVersionConflict when another write got there first.
	Update(ctx context.Context, r *GrowthRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByPatient orders by measurement date, oldest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*GrowthRecord, int, error)
}

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}
