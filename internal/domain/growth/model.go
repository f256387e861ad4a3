package growth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/fhir"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/lms"
)

// Gender as stored on patient and growth rows.
type Gender string

const (
	GenderBoy  Gender = "BOY"
	GenderGirl Gender = "GIRL"
)

func (g Gender) Valid() bool {
	return g == GenderBoy || g == GenderGirl
}

// Reference maps a stored gender to its reference table key.
func (g Gender) Reference() lms.Gender {
	if g == GenderBoy {
		return lms.Boys
	}
	return lms.Girls
}

// ParseReferenceGender accepts the reference keys (boys, girls) and the
// stored values (BOY, GIRL), case-insensitively.
func ParseReferenceGender(s string) (lms.Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boys", "boy", "male":
		return lms.Boys, true
	case "girls", "girl", "female":
		return lms.Girls, true
	}
	return "", false
}

// Patient is the demographic subset needed to age a measurement.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FHIRID    string    `db:"fhir_id" json:"fhir_id"`
	Gender    Gender    `db:"gender" json:"gender"`
	BirthDate time.Time `db:"birth_date" json:"birth_date"`
}

// GrowthRecord maps to the growth_record table (FHIR Observation resource).
type GrowthRecord struct {
	ID                       uuid.UUID `db:"id" json:"id"`
	FHIRID                   string    `db:"fhir_id" json:"fhir_id"`
	PatientID                uuid.UUID `db:"patient_id" json:"patient_id"`
	MeasuredAt               time.Time `db:"measured_at" json:"date"`
	Gender                   Gender    `db:"gender" json:"gender"`
	AgeDays                  int       `db:"age_days" json:"age_days"`
	AgeMonths                int       `db:"age_months" json:"age_months"`
	WeightKg                 float64   `db:"weight_kg" json:"weight_kg"`
	HeightCm                 float64   `db:"height_cm" json:"height_cm"`
	HeadCircumferenceCm      *float64  `db:"head_circumference_cm" json:"head_circumference_cm"`
	BMI                      float64   `db:"bmi" json:"bmi"`
	WeightForAgeZ            *float64  `db:"weight_for_age_z" json:"weight_for_age_z"`
	HeightForAgeZ            *float64  `db:"height_for_age_z" json:"height_for_age_z"`
	HeadCircumferenceForAgeZ *float64  `db:"hc_for_age_z" json:"head_circumference_for_age_z"`
	BMIForAgeZ               *float64  `db:"bmi_for_age_z" json:"bmi_for_age_z"`
	Notes                    *string   `db:"notes" json:"notes,omitempty"`
	RecordedBy               *string   `db:"recorded_by" json:"recorded_by,omitempty"`
	VersionID                int       `db:"version_id" json:"version_id"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

const (
	loincSystem      = "http://loinc.org"
	growthPanelCode  = "85353-1"
	weightCode       = "29463-7"
	heightCode       = "8302-2"
	headCircCode     = "9843-4"
	bmiCode          = "39156-5"
	categorySystem   = "http://terminology.hl7.org/CodeSystem/observation-category"
	vitalSignsCode   = "vital-signs"
	observationType  = "Observation"
	patientReference = "Patient"
)

func (r *GrowthRecord) ToFHIR() map[string]interface{} {
	components := []map[string]interface{}{
		measurementComponent(weightCode, "Body weight", fhir.UCUM(r.WeightKg, "kg"), r.WeightForAgeZ),
		measurementComponent(heightCode, "Body height", fhir.UCUM(r.HeightCm, "cm"), r.HeightForAgeZ),
	}
	if r.HeadCircumferenceCm != nil {
		components = append(components,
			measurementComponent(headCircCode, "Head Occipital-frontal circumference", fhir.UCUM(*r.HeadCircumferenceCm, "cm"), r.HeadCircumferenceForAgeZ))
	}
	if r.BMI > 0 {
		components = append(components,
			measurementComponent(bmiCode, "Body mass index (BMI)", fhir.UCUM(r.BMI, "kg/m2"), r.BMIForAgeZ))
	}

	result := map[string]interface{}{
		"resourceType": observationType,
		"id":           r.FHIRID,
		"status":       "final",
		"category": []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{
				System:  categorySystem,
				Code:    vitalSignsCode,
				Display: "Vital Signs",
			}},
		}},
		"code": fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  loincSystem,
				Code:    growthPanelCode,
				Display: "Vital signs, weight, height, head circumference, oxygen saturation and BMI panel",
			}},
			Text: "Growth measurement",
		},
		"subject":           fhir.Reference{Reference: fhir.FormatReference(patientReference, r.PatientID.String())},
		"effectiveDateTime": r.MeasuredAt.UTC().Format(time.RFC3339),
		"component":         components,
		"meta": fhir.Meta{
			VersionID:   fmt.Sprintf("%d", r.VersionID),
			LastUpdated: r.UpdatedAt,
		},
	}
	if r.Notes != nil && *r.Notes != "" {
		result["note"] = []map[string]string{{"text": *r.Notes}}
	}
	return result
}

func measurementComponent(code, display string, value fhir.Quantity, z *float64) map[string]interface{} {
	comp := map[string]interface{}{
		"code": fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: loincSystem, Code: code, Display: display}},
		},
		"valueQuantity": value,
	}
	if z != nil {
		comp["interpretation"] = []fhir.CodeableConcept{{
			Text: fmt.Sprintf("z=%.2f (P%.1f)", *z, lms.Percentile(*z)),
		}}
	}
	return comp
}

// Nullable distinguishes an absent JSON field from an explicit null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// Null returns a Nullable that clears the field.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// Some returns a Nullable carrying v.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// CreateInput is the payload for recording a measurement.
type CreateInput struct {
	PatientID           uuid.UUID `json:"patient_id"`
	Date                time.Time `json:"date"`
	Gender              Gender    `json:"gender"`
	WeightKg            float64   `json:"weight_kg"`
	HeightCm            float64   `json:"height_cm"`
	HeadCircumferenceCm *float64  `json:"head_circumference_cm,omitempty"`
	Notes               *string   `json:"notes,omitempty"`
}

// UpdateInput is a partial update; nil pointers keep the stored value.
type UpdateInput struct {
	Date                *time.Time        `json:"date,omitempty"`
	WeightKg            *float64          `json:"weight_kg,omitempty"`
	HeightCm            *float64          `json:"height_cm,omitempty"`
	HeadCircumferenceCm Nullable[float64] `json:"head_circumference_cm"`
	Notes               Nullable[string]  `json:"notes"`
}

// CalculateInput describes a one-off Z-score request. Age comes from
// AgeDays, or from DateOfBirth and Date when AgeDays is nil.
type CalculateInput struct {
	Chart       lms.ChartType
	Gender      lms.Gender
	AgeDays     *int
	DateOfBirth *time.Time
	Date        *time.Time
	Value       float64
}

// Calculation is the result of a one-off Z-score request. ZScore and
// Percentile are nil when the value is not computable.
type Calculation struct {
	Chart      lms.ChartType `json:"chart"`
	Gender     lms.Gender    `json:"gender"`
	AgeDays    int           `json:"age_days"`
	Value      float64       `json:"value"`
	ZScore     *float64      `json:"z_score"`
	Percentile *float64      `json:"percentile"`
	LMS        *lms.Point    `json:"lms,omitempty"`
}
