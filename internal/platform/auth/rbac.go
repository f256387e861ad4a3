package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin   = "admin"
	RoleDoctor  = "doctor"
	RoleNurse   = "nurse"
	RolePatient = "patient"
)

// ClinicalRoles may record and edit measurements.
var ClinicalRoles = []string{RoleAdmin, RoleDoctor, RoleNurse}

// ReadRoles may view growth data.
var ReadRoles = []string{RoleAdmin, RoleDoctor, RoleNurse, RolePatient}

// HasRole reports whether ctx carries one of roles. Admin satisfies any role.
func HasRole(ctx context.Context, roles ...string) bool {
	userRoles := RolesFromContext(ctx)
	if slices.Contains(userRoles, RoleAdmin) {
		return true
	}
	for _, required := range roles {
		if slices.Contains(userRoles, required) {
			return true
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// CanAccessPatient reports whether the caller may read patientID's chart.
// Staff roles see every patient; a patient-only caller sees their own.
func CanAccessPatient(ctx context.Context, patientID string) bool {
	if HasRole(ctx, RoleDoctor, RoleNurse) {
		return true
	}
	if !HasRole(ctx, RolePatient) {
		return false
	}
	own := PatientIDFromContext(ctx)
	return own != "" && own == patientID
}
