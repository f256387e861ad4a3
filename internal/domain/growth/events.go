package growth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/events"
)

// publishTimeout bounds delivery of one record event.
const publishTimeout = 5 * time.Second

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// EventType returns the broker event type for a record action.
func EventType(action string) string {
	return "growth.record." + action
}

// RecordEvent is the payload of growth.record.* events.
type RecordEvent struct {
	RecordID                 uuid.UUID `json:"record_id"`
	PatientID                uuid.UUID `json:"patient_id"`
	MeasuredAt               time.Time `json:"date"`
	AgeDays                  int       `json:"age_days"`
	VersionID                int       `json:"version_id"`
	WeightForAgeZ            *float64  `json:"weight_for_age_z,omitempty"`
	HeightForAgeZ            *float64  `json:"height_for_age_z,omitempty"`
	HeadCircumferenceForAgeZ *float64  `json:"head_circumference_for_age_z,omitempty"`
	BMIForAgeZ               *float64  `json:"bmi_for_age_z,omitempty"`
}

func newRecordEvent(r *GrowthRecord) RecordEvent {
	return RecordEvent{
		RecordID:                 r.ID,
		PatientID:                r.PatientID,
		MeasuredAt:               r.MeasuredAt,
		AgeDays:                  r.AgeDays,
		VersionID:                r.VersionID,
		WeightForAgeZ:            r.WeightForAgeZ,
		HeightForAgeZ:            r.HeightForAgeZ,
		HeadCircumferenceForAgeZ: r.HeadCircumferenceForAgeZ,
		BMIForAgeZ:               r.BMIForAgeZ,
	}
}

// publish emits a record event keyed by patient. The record is already
// committed, so delivery is detached from the caller's cancellation and
// bounded by publishTimeout. Failures are logged and counted.
func (s *Service) publish(ctx context.Context, action string, r *GrowthRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	eventType := EventType(action)
	evt, err := events.NewEvent(eventType, r.PatientID.String(), newRecordEvent(r))
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err == nil {
		return
	}
	s.logger.Warn().Err(err).
		Str("event_type", eventType).
		Str("record_id", r.ID.String()).
		Msg("failed to publish growth event")
	if s.onFailure != nil {
		s.onFailure(eventType)
	}
}
