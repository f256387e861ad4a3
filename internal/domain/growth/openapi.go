package growth

import (
	"net/http"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/openapi"
)

const schemaRef = "#/components/schemas/"

// DescribeAPI documents the routes registered by RegisterRoutes. apiPrefix
// and fhirPrefix are the group prefixes the handler was mounted under.
func DescribeAPI(g *openapi.Generator, apiPrefix, fhirPrefix string) {
	chartParams := []openapi.Param{
		{Name: "chart", Required: true, Description: "wfa, lhfa, hcfa or bfa"},
		{Name: "gender", Required: true, Description: "boys or girls"},
	}
	page := []openapi.Param{
		{Name: "limit", Type: "integer"},
		{Name: "offset", Type: "integer"},
	}

	g.Document(http.MethodPost, apiPrefix+"/growth-records", openapi.Operation{
		Summary: "Record a measurement", Tag: "Growth",
		RequestRef: schemaRef + "CreateGrowthRecord", ResponseRef: schemaRef + "GrowthRecord",
	})
	g.Document(http.MethodGet, apiPrefix+"/growth-records/:id", openapi.Operation{
		Summary: "Get a growth record", Tag: "Growth", ResponseRef: schemaRef + "GrowthRecord",
	})
	for _, m := range []string{http.MethodPatch, http.MethodPut} {
		g.Document(m, apiPrefix+"/growth-records/:id", openapi.Operation{
			Summary: "Update a growth record", Tag: "Growth",
			RequestRef: schemaRef + "UpdateGrowthRecord", ResponseRef: schemaRef + "GrowthRecord",
		})
	}
	g.Document(http.MethodDelete, apiPrefix+"/growth-records/:id", openapi.Operation{
		Summary: "Delete a growth record", Tag: "Growth",
	})
	g.Document(http.MethodGet, apiPrefix+"/patients/:patient_id/growth-records", openapi.Operation{
		Summary: "List a patient's growth records", Tag: "Growth", Query: page,
		ResponseRef: schemaRef + "GrowthRecordPage",
	})
	g.Document(http.MethodGet, apiPrefix+"/growth/zscore", openapi.Operation{
		Summary: "Compute a Z-score and percentile", Tag: "Reference",
		Query: append(append([]openapi.Param{}, chartParams...),
			openapi.Param{Name: "value", Type: "number", Required: true},
			openapi.Param{Name: "age_days", Type: "integer", Description: "takes precedence over dob and date"},
			openapi.Param{Name: "dob", Description: "YYYY-MM-DD"},
			openapi.Param{Name: "date", Description: "YYYY-MM-DD"},
		),
		ResponseRef: schemaRef + "Calculation",
	})
	g.Document(http.MethodGet, apiPrefix+"/growth/curves", openapi.Operation{
		Summary: "Percentile curves for a chart", Tag: "Reference",
		Query: append(append([]openapi.Param{}, chartParams...),
			openapi.Param{Name: "from", Type: "integer"},
			openapi.Param{Name: "to", Type: "integer"},
			openapi.Param{Name: "step", Type: "integer"},
			openapi.Param{Name: "percentiles", Description: "comma separated, each in (0, 100)"},
		),
		ResponseRef: schemaRef + "Curves",
	})
	g.Document(http.MethodGet, apiPrefix+"/growth/reference", openapi.Operation{
		Summary: "Loaded reference tables", Tag: "Reference", ResponseRef: schemaRef + "ReferenceTables",
	})
	g.Document(http.MethodGet, fhirPrefix+"/Observation", openapi.Operation{
		Summary: "Search growth Observations", Tag: "FHIR", FHIR: true,
		Query:       []openapi.Param{{Name: "patient", Required: true}, {Name: "_count", Type: "integer"}, {Name: "_offset", Type: "integer"}},
		ResponseRef: schemaRef + "Bundle",
	})
	g.Document(http.MethodGet, fhirPrefix+"/Observation/:id", openapi.Operation{
		Summary: "Read a growth Observation", Tag: "FHIR", FHIR: true, ResponseRef: schemaRef + "Observation",
	})

	g.AddSchema("GrowthRecord", growthRecordSchema())
	g.AddSchema("CreateGrowthRecord", object(map[string]interface{}{
		"patient_id":            str("uuid"),
		"date":                  str("date"),
		"gender":                enum(string(GenderBoy), string(GenderGirl)),
		"weight_kg":             num(),
		"height_cm":             num(),
		"head_circumference_cm": num(),
		"notes":                 str(""),
	}, "patient_id", "date", "gender", "weight_kg", "height_cm"))
	g.AddSchema("UpdateGrowthRecord", object(map[string]interface{}{
		"date":                  str("date"),
		"weight_kg":             num(),
		"height_cm":             num(),
		"head_circumference_cm": nullable(num()),
		"notes":                 nullable(str("")),
	}))
	g.AddSchema("GrowthRecordPage", object(map[string]interface{}{
		"data":     array(ref("GrowthRecord")),
		"total":    integer(),
		"limit":    integer(),
		"offset":   integer(),
		"has_more": map[string]interface{}{"type": "boolean"},
	}))
	g.AddSchema("Calculation", object(map[string]interface{}{
		"chart":      str(""),
		"gender":     str(""),
		"age_days":   integer(),
		"value":      num(),
		"z_score":    nullable(num()),
		"percentile": nullable(num()),
		"lms": object(map[string]interface{}{
			"day": integer(), "L": num(), "M": num(), "S": num(),
		}),
	}))
	g.AddSchema("Curves", object(map[string]interface{}{
		"chart":  str(""),
		"gender": str(""),
		"curves": array(object(map[string]interface{}{
			"percentile": num(),
			"z":          num(),
			"samples":    array(object(map[string]interface{}{"day": integer(), "value": num()})),
		})),
	}))
	g.AddSchema("ReferenceTables", object(map[string]interface{}{
		"tables": array(object(map[string]interface{}{
			"chart":     str(""),
			"gender":    str(""),
			"points":    integer(),
			"first_day": integer(),
			"last_day":  integer(),
		})),
	}))
	g.AddSchema("Observation", object(map[string]interface{}{
		"resourceType":      enum("Observation"),
		"id":                str(""),
		"status":            str(""),
		"code":              ref("CodeableConcept"),
		"subject":           ref("Reference"),
		"effectiveDateTime": str("date-time"),
		"component": array(object(map[string]interface{}{
			"code":          ref("CodeableConcept"),
			"valueQuantity": ref("Quantity"),
		})),
	}))
}

func growthRecordSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"id":                           str("uuid"),
		"fhir_id":                      str(""),
		"patient_id":                   str("uuid"),
		"date":                         str("date-time"),
		"gender":                       enum(string(GenderBoy), string(GenderGirl)),
		"age_days":                     integer(),
		"age_months":                   integer(),
		"weight_kg":                    num(),
		"height_cm":                    num(),
		"head_circumference_cm":        nullable(num()),
		"bmi":                          num(),
		"weight_for_age_z":             nullable(num()),
		"height_for_age_z":             nullable(num()),
		"head_circumference_for_age_z": nullable(num()),
		"bmi_for_age_z":                nullable(num()),
		"notes":                        str(""),
		"recorded_by":                  str(""),
		"version_id":                   integer(),
		"created_at":                   str("date-time"),
		"updated_at":                   str("date-time"),
	})
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(format string) map[string]interface{} {
	if format == "" {
		return map[string]interface{}{"type": "string"}
	}
	return map[string]interface{}{"type": "string", "format": format}
}

func num() map[string]interface{}     { return map[string]interface{}{"type": "number"} }
func integer() map[string]interface{} { return map[string]interface{}{"type": "integer"} }

func enum(values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values}
}

func array(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": schemaRef + name}
}

func nullable(s map[string]interface{}) map[string]interface{} {
	s["nullable"] = true
	return s
}
