package growth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/db"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/events"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/lms"
)

var (
	ErrNotFound               = errors.New("growth record not found")
	ErrPatientNotFound        = errors.New("patient not found")
	ErrMeasurementBeforeBirth = errors.New("measurement date cannot be before patient's date of birth")
	ErrInvalidInput           = errors.New("invalid input")
	ErrVersionConflict        = errors.New("growth record was modified by another request")
)

// maxCurveSamples bounds a single curves request.
const maxCurveSamples = 5000

// curveDayMargin is how far past the last reference day a curve may extend.
const curveDayMargin = 365

type Service struct {
	records   GrowthRecordRepository
	patients  PatientRepository
	engine    *lms.Engine
	logger    zerolog.Logger
	publisher events.Publisher
	onFailure func(eventType string)
	tx        db.TxBeginner
}

type Option func(*Service)

// WithPublisher sends record events to p. onFailure, when set, is told
// about every event that could not be published.
func WithPublisher(p events.Publisher, onFailure func(eventType string)) Option {
	return func(s *Service) {
		s.publisher = p
		s.onFailure = onFailure
	}
}

// WithTransactions runs read-modify-write operations in a transaction.
func WithTransactions(tx db.TxBeginner) Option {
	return func(s *Service) { s.tx = tx }
}

func NewService(records GrowthRecordRepository, patients PatientRepository, engine *lms.Engine, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		records:   records,
		patients:  patients,
		engine:    engine,
		logger:    logger.With().Str("component", "growth").Logger(),
		publisher: events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Engine() *lms.Engine { return s.engine }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.tx, fn)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func checkMeasurement(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("%s must be a finite number", name)
	}
	if v < 0 {
		return invalid("%s must be >= 0", name)
	}
	return nil
}

func (in *CreateInput) validate() error {
	if in.PatientID == uuid.Nil {
		return invalid("patient_id is required")
	}
	if in.Date.IsZero() {
		return invalid("date is required")
	}
	if !in.Gender.Valid() {
		return invalid("gender must be BOY or GIRL")
	}
	if err := checkMeasurement("weight_kg", in.WeightKg); err != nil {
		return err
	}
	if err := checkMeasurement("height_cm", in.HeightCm); err != nil {
		return err
	}
	if in.HeadCircumferenceCm != nil {
		if err := checkMeasurement("head_circumference_cm", *in.HeadCircumferenceCm); err != nil {
			return err
		}
	}
	return nil
}

func (in *UpdateInput) validate() error {
	if in.Date != nil && in.Date.IsZero() {
		return invalid("date must not be empty")
	}
	if in.WeightKg != nil {
		if err := checkMeasurement("weight_kg", *in.WeightKg); err != nil {
			return err
		}
	}
	if in.HeightCm != nil {
		if err := checkMeasurement("height_cm", *in.HeightCm); err != nil {
			return err
		}
	}
	if in.HeadCircumferenceCm.Value != nil {
		if err := checkMeasurement("head_circumference_cm", *in.HeadCircumferenceCm.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) loadPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return p, nil
}

// score runs the engine and drops results that are absent or non-finite.
func (s *Service) score(chart lms.ChartType, gender lms.Gender, ageDays int, value float64) *float64 {
	z, ok := s.engine.Calculate(chart, gender, ageDays, value)
	if !ok || !lms.Finite(z) {
		return nil
	}
	return &z
}

// applyMeasurements fills age, BMI and every Z-score on r from its
// measurements and date.
func (s *Service) applyMeasurements(r *GrowthRecord, dob time.Time) error {
	// Calendar months depend on the zone; rows read back from Postgres carry
	// the server's local zone.
	dob, measured := dob.UTC(), r.MeasuredAt.UTC()
	ageDays := lms.AgeInDays(dob, measured)
	if ageDays < 0 {
		return ErrMeasurementBeforeBirth
	}
	r.AgeDays = ageDays
	r.AgeMonths = lms.AgeInMonths(dob, measured)

	ref := r.Gender.Reference()
	r.WeightForAgeZ = s.score(lms.WeightForAge, ref, ageDays, r.WeightKg)
	r.HeightForAgeZ = s.score(lms.LengthHeightForAge, ref, ageDays, r.HeightCm)

	r.HeadCircumferenceForAgeZ = nil
	if r.HeadCircumferenceCm != nil {
		r.HeadCircumferenceForAgeZ = s.score(lms.HeadCircumferenceForAge, ref, ageDays, *r.HeadCircumferenceCm)
	}

	r.BMI = 0
	r.BMIForAgeZ = nil
	if bmi, ok := lms.BMI(r.WeightKg, r.HeightCm); ok {
		r.BMI = bmi
		r.BMIForAgeZ = s.score(lms.BMIForAge, ref, ageDays, bmi)
	}
	return nil
}

func (s *Service) CreateRecord(ctx context.Context, in CreateInput, recordedBy string) (*GrowthRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if patient.Gender.Valid() && patient.Gender != in.Gender {
		s.logger.Warn().
			Str("patient_id", in.PatientID.String()).
			Str("patient_gender", string(patient.Gender)).
			Str("input_gender", string(in.Gender)).
			Msg("measurement gender differs from patient record")
	}

	r := &GrowthRecord{
		PatientID:           in.PatientID,
		MeasuredAt:          in.Date,
		Gender:              in.Gender,
		WeightKg:            in.WeightKg,
		HeightCm:            in.HeightCm,
		HeadCircumferenceCm: in.HeadCircumferenceCm,
		Notes:               in.Notes,
		VersionID:           1,
	}
	if recordedBy != "" {
		r.RecordedBy = &recordedBy
	}
	if err := s.applyMeasurements(r, patient.BirthDate); err != nil {
		return nil, err
	}
	if err := s.records.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create growth record: %w", err)
	}
	s.publish(ctx, ActionCreated, r)
	return r, nil
}

// UpdateRecord merges in over the stored record and recomputes every derived
// value using the patient's stored gender and date of birth.
func (s *Service) UpdateRecord(ctx context.Context, id uuid.UUID, in UpdateInput) (*GrowthRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *GrowthRecord
	err := s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		patient, err := s.loadPatient(ctx, r.PatientID)
		if err != nil {
			return err
		}

		if in.Date != nil {
			r.MeasuredAt = *in.Date
		}
		if in.WeightKg != nil {
			r.WeightKg = *in.WeightKg
		}
		if in.HeightCm != nil {
			r.HeightCm = *in.HeightCm
		}
		if in.HeadCircumferenceCm.Set {
			r.HeadCircumferenceCm = in.HeadCircumferenceCm.Value
		}
		if in.Notes.Set {
			r.Notes = in.Notes.Value
		}
		if patient.Gender.Valid() {
			r.Gender = patient.Gender
		}

		if err := s.applyMeasurements(r, patient.BirthDate); err != nil {
			return err
		}
		r.VersionID++
		if err := s.records.Update(ctx, r); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
				return err
			}
			return fmt.Errorf("update growth record: %w", err)
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ActionUpdated, updated)
	return updated, nil
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*GrowthRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get growth record: %w", err)
	}
	return r, nil
}

func (s *Service) GetRecordByFHIRID(ctx context.Context, fhirID string) (*GrowthRecord, error) {
	r, err := s.records.GetByFHIRID(ctx, fhirID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get growth record: %w", err)
	}
	return r, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*GrowthRecord, int, error) {
	if _, err := s.loadPatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.records.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list growth records: %w", err)
	}
	return items, total, nil
}

func (s *Service) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	var deleted *GrowthRecord
	err := s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		if err := s.records.Delete(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("delete growth record: %w", err)
		}
		deleted = r
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, ActionDeleted, deleted)
	return nil
}

// Calculate scores a single value without touching storage.
func (s *Service) Calculate(in CalculateInput) (*Calculation, error) {
	if !in.Chart.Valid() {
		return nil, invalid("unknown chart %q", in.Chart)
	}
	if !in.Gender.Valid() {
		return nil, invalid("unknown gender %q", in.Gender)
	}
	if math.IsNaN(in.Value) || math.IsInf(in.Value, 0) {
		return nil, invalid("value must be a finite number")
	}

	var ageDays int
	switch {
	case in.AgeDays != nil:
		if *in.AgeDays < 0 {
			return nil, invalid("age_days must be >= 0")
		}
		ageDays = *in.AgeDays
	case in.DateOfBirth != nil && in.Date != nil:
		ageDays = lms.AgeInDays(*in.DateOfBirth, *in.Date)
		if ageDays < 0 {
			return nil, ErrMeasurementBeforeBirth
		}
	default:
		return nil, invalid("age_days or dob and date are required")
	}

	out := &Calculation{Chart: in.Chart, Gender: in.Gender, AgeDays: ageDays, Value: in.Value}
	if p, outcome := s.engine.Resolve(in.Chart, in.Gender, ageDays); outcome == lms.OutcomeOK {
		out.LMS = &p
	}
	if z := s.score(in.Chart, in.Gender, ageDays, in.Value); z != nil {
		pct := lms.Percentile(*z)
		out.ZScore = z
		out.Percentile = &pct
	}
	return out, nil
}

// CurveRequest selects centile curves over [FromDay, ToDay]. ToDay < 0 means
// the last day of the reference table.
type CurveRequest struct {
	Chart       lms.ChartType
	Gender      lms.Gender
	FromDay     int
	ToDay       int
	Step        int
	Percentiles []float64
}

func (s *Service) Curves(req CurveRequest) ([]lms.Curve, error) {
	if !req.Chart.Valid() {
		return nil, invalid("unknown chart %q", req.Chart)
	}
	if !req.Gender.Valid() {
		return nil, invalid("unknown gender %q", req.Gender)
	}
	table, ok := s.engine.Dataset().Lookup(req.Chart, req.Gender)
	if !ok {
		return nil, fmt.Errorf("%w: no %s reference for %s", ErrNotFound, req.Chart, req.Gender)
	}
	lastDay := table[len(table)-1].Day
	if req.ToDay < 0 {
		req.ToDay = lastDay
	}
	if req.ToDay > lastDay+curveDayMargin {
		return nil, invalid("to must not exceed day %d", lastDay+curveDayMargin)
	}
	if req.FromDay < 0 || req.FromDay > req.ToDay {
		return nil, invalid("from must be between 0 and to")
	}
	if req.Step <= 0 {
		req.Step = 1
	}
	if (req.ToDay-req.FromDay)/req.Step+1 > maxCurveSamples {
		return nil, invalid("too many samples; raise step or narrow the range")
	}
	for _, p := range req.Percentiles {
		if p <= 0 || p >= 100 {
			return nil, invalid("percentile %v must be between 0 and 100", p)
		}
	}

	curves, ok := s.engine.Curves(req.Chart, req.Gender, req.FromDay, req.ToDay, req.Step, req.Percentiles)
	if !ok {
		return nil, fmt.Errorf("%w: no %s reference for %s", ErrNotFound, req.Chart, req.Gender)
	}
	return curves, nil
}

// Reference summarises the loaded reference tables.
func (s *Service) Reference() []lms.TableSummary {
	return s.engine.Dataset().Charts()
}
