package growth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/auth"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/fhir"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/lms"
	"github.com/drhazemibclc/pediatric-clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	// REST endpoints
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/growth-records/:id", h.GetRecord)
	read.GET("/patients/:patient_id/growth-records", h.ListByPatient)
	read.GET("/growth/zscore", h.CalculateZScore)
	read.GET("/growth/curves", h.Curves)
	read.GET("/growth/reference", h.Reference)

	write := api.Group("", auth.RequireRole(auth.ClinicalRoles...))
	write.POST("/growth-records", h.CreateRecord)
	write.PATCH("/growth-records/:id", h.UpdateRecord)
	write.PUT("/growth-records/:id", h.UpdateRecord)
	write.DELETE("/growth-records/:id", h.DeleteRecord)

	// FHIR read endpoints
	fhirRead := fhirGroup.Group("", auth.RequireRole(auth.ReadRoles...))
	fhirRead.GET("/Observation", h.SearchObservationsFHIR)
	fhirRead.GET("/Observation/:id", h.GetObservationFHIR)
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// httpError maps service errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMeasurementBeforeBirth):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func forbidden() error {
	return echo.NewHTTPError(http.StatusForbidden, "access to this patient is not permitted")
}

type createRequest struct {
	PatientID           string   `json:"patient_id"`
	Date                string   `json:"date"`
	Gender              Gender   `json:"gender"`
	WeightKg            *float64 `json:"weight_kg"`
	HeightCm            *float64 `json:"height_cm"`
	HeadCircumferenceCm *float64 `json:"head_circumference_cm"`
	Notes               *string  `json:"notes"`
}

func (r createRequest) toInput() (CreateInput, error) {
	pid, err := uuid.Parse(r.PatientID)
	if err != nil {
		return CreateInput{}, errors.New("invalid patient_id")
	}
	date, err := parseDate(r.Date)
	if err != nil {
		return CreateInput{}, err
	}
	if r.WeightKg == nil || r.HeightCm == nil {
		return CreateInput{}, errors.New("weight_kg and height_cm are required")
	}
	return CreateInput{
		PatientID:           pid,
		Date:                date,
		Gender:              Gender(strings.ToUpper(string(r.Gender))),
		WeightKg:            *r.WeightKg,
		HeightCm:            *r.HeightCm,
		HeadCircumferenceCm: r.HeadCircumferenceCm,
		Notes:               r.Notes,
	}, nil
}

type updateRequest struct {
	Date                *string           `json:"date"`
	WeightKg            *float64          `json:"weight_kg"`
	HeightCm            *float64          `json:"height_cm"`
	HeadCircumferenceCm Nullable[float64] `json:"head_circumference_cm"`
	Notes               Nullable[string]  `json:"notes"`
}

func (r updateRequest) toInput() (UpdateInput, error) {
	in := UpdateInput{
		WeightKg:            r.WeightKg,
		HeightCm:            r.HeightCm,
		HeadCircumferenceCm: r.HeadCircumferenceCm,
		Notes:               r.Notes,
	}
	if r.Date != nil {
		d, err := parseDate(*r.Date)
		if err != nil {
			return UpdateInput{}, err
		}
		in.Date = &d
	}
	return in, nil
}

// -- Growth record REST handlers --

func (h *Handler) CreateRecord(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := req.toInput()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	r, err := h.svc.CreateRecord(ctx, in, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	r, err := h.svc.GetRecord(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !auth.CanAccessPatient(ctx, r.PatientID.String()) {
		return forbidden()
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	ctx := c.Request().Context()
	if !auth.CanAccessPatient(ctx, pid.String()) {
		return forbidden()
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := req.toInput()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.UpdateRecord(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteRecord(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Reference handlers --

func chartAndGender(c echo.Context) (lms.ChartType, lms.Gender, error) {
	chart := lms.ChartType(strings.ToLower(c.QueryParam("chart")))
	if !chart.Valid() {
		return "", "", fmt.Errorf("chart must be one of wfa, lhfa, hcfa, bfa")
	}
	gender, ok := ParseReferenceGender(c.QueryParam("gender"))
	if !ok {
		return "", "", fmt.Errorf("gender must be boys or girls")
	}
	return chart, gender, nil
}

func (h *Handler) CalculateZScore(c echo.Context) error {
	chart, gender, err := chartAndGender(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	value, err := strconv.ParseFloat(c.QueryParam("value"), 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid value")
	}
	in := CalculateInput{Chart: chart, Gender: gender, Value: value}

	if raw := c.QueryParam("age_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid age_days")
		}
		in.AgeDays = &days
	} else if dob, date := c.QueryParam("dob"), c.QueryParam("date"); dob != "" && date != "" {
		d, err := parseDate(dob)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		m, err := parseDate(date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.DateOfBirth, in.Date = &d, &m
	}

	out, err := h.svc.Calculate(in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func (h *Handler) Curves(c echo.Context) error {
	chart, gender, err := chartAndGender(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := CurveRequest{Chart: chart, Gender: gender}
	if req.FromDay, err = intParam(c, "from", 0); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ToDay, err = intParam(c, "to", -1); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Step, err = intParam(c, "step", 30); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if raw := c.QueryParam("percentiles"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			p, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid percentile %q", part))
			}
			req.Percentiles = append(req.Percentiles, p)
		}
	}

	curves, err := h.svc.Curves(req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"chart":  chart,
		"gender": gender,
		"curves": curves,
	})
}

func (h *Handler) Reference(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tables": h.svc.Reference(),
	})
}

// -- FHIR endpoints --

func (h *Handler) SearchObservationsFHIR(c echo.Context) error {
	ref := strings.TrimPrefix(c.QueryParam("patient"), "Patient/")
	if ref == "" {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("search requires the patient parameter"))
	}
	pid, err := uuid.Parse(ref)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("invalid patient reference"))
	}
	ctx := c.Request().Context()
	if !auth.CanAccessPatient(ctx, pid.String()) {
		return c.JSON(http.StatusForbidden, fhir.NewOperationOutcome("error", "forbidden", "access to this patient is not permitted"))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", pid.String()))
		}
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	resources := make([]map[string]interface{}, len(items))
	for i, item := range items {
		resources[i] = item.ToFHIR()
	}
	bundle, err := fhir.NewSearchBundle(resources, fhir.SearchBundleParams{
		BaseURL:  "/fhir/Observation",
		QueryStr: c.QueryString(),
		Count:    pg.Limit,
		Offset:   pg.Offset,
		Total:    total,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) GetObservationFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := h.svc.GetRecordByFHIRID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", c.Param("id")))
		}
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	if !auth.CanAccessPatient(ctx, r.PatientID.String()) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", c.Param("id")))
	}
	return c.JSON(http.StatusOK, r.ToFHIR())
}
