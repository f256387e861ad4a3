package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation describes a documented route. Routes registered on the server
// without a matching Operation are still listed, with a generic summary.
type Operation struct {
	Summary     string
	Tag         string
	Query       []Param
	RequestRef  string
	ResponseRef string
	FHIR        bool
}

// Param is a query parameter.
type Param struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Generator produces an OpenAPI 3.0 document from the routes registered on
// an echo instance.
type Generator struct {
	title   string
	version string
	baseURL string
	ops     map[string]Operation
	schemas map[string]map[string]interface{}
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{
		title:   title,
		version: version,
		baseURL: baseURL,
		ops:     make(map[string]Operation),
		schemas: make(map[string]map[string]interface{}),
	}
}

// Document attaches documentation to a route. path uses echo syntax
// (":id"), the same string passed to the router.
func (g *Generator) Document(method, path string, op Operation) {
	g.ops[method+" "+path] = op
}

// AddSchema registers a component schema referenced as
// "#/components/schemas/<name>".
func (g *Generator) AddSchema(name string, schema map[string]interface{}) {
	g.schemas[name] = schema
}

// GenerateSpec builds the document for the given routes. Only routes under
// /api and /fhir are included.
func (g *Generator) GenerateSpec(routes []*echo.Route) map[string]interface{} {
	paths := make(map[string]interface{})
	tagSet := make(map[string]bool)

	sorted := make([]*echo.Route, 0, len(routes))
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, "/api/") && !strings.HasPrefix(r.Path, "/fhir/") {
			continue
		}
		if r.Method == echo.RouteNotFound {
			continue
		}
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Method < sorted[j].Method
	})

	for _, r := range sorted {
		op, ok := g.ops[r.Method+" "+r.Path]
		if !ok {
			op = Operation{Summary: r.Method + " " + r.Path}
		}
		if op.Tag == "" {
			op.Tag = defaultTag(r.Path)
		}
		tagSet[op.Tag] = true

		oaPath, params := convertPath(r.Path)
		item, _ := paths[oaPath].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[oaPath] = item
		}
		item[strings.ToLower(r.Method)] = g.buildOperation(r.Method, r.Path, op, params)
	}

	tags := make([]map[string]string, 0, len(tagSet))
	for _, name := range sortedKeys(tagSet) {
		tags = append(tags, map[string]string{"name": name})
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"tags":  tags,
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": g.buildComponentSchemas(),
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		},
		"security": []map[string][]string{
			{"bearerAuth": {}},
		},
	}
}

func (g *Generator) buildOperation(method, path string, op Operation, pathParams []string) map[string]interface{} {
	var parameters []map[string]interface{}
	for _, name := range pathParams {
		parameters = append(parameters, map[string]interface{}{
			"name":     name,
			"in":       "path",
			"required": true,
			"schema":   map[string]string{"type": "string"},
		})
	}
	for _, q := range op.Query {
		typ := q.Type
		if typ == "" {
			typ = "string"
		}
		p := map[string]interface{}{
			"name":     q.Name,
			"in":       "query",
			"required": q.Required,
			"schema":   map[string]string{"type": typ},
		}
		if q.Description != "" {
			p["description"] = q.Description
		}
		parameters = append(parameters, p)
	}

	contentType := "application/json"
	errorRef := "#/components/schemas/Error"
	if op.FHIR {
		contentType = "application/fhir+json"
		errorRef = "#/components/schemas/OperationOutcome"
	}

	success := http.StatusOK
	switch method {
	case http.MethodPost:
		success = http.StatusCreated
	case http.MethodDelete:
		success = http.StatusNoContent
	}

	responses := map[string]interface{}{}
	if success == http.StatusNoContent || op.ResponseRef == "" {
		responses[statusKey(success)] = map[string]interface{}{"description": http.StatusText(success)}
	} else {
		responses[statusKey(success)] = buildResponseWithSchema(http.StatusText(success), contentType, op.ResponseRef)
	}
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		responses[statusKey(code)] = buildResponseWithSchema(http.StatusText(code), contentType, errorRef)
	}

	result := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": operationID(method, path),
		"tags":        []string{op.Tag},
		"responses":   responses,
	}
	if len(parameters) > 0 {
		result["parameters"] = parameters
	}
	if op.RequestRef != "" {
		result["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]interface{}{"$ref": op.RequestRef},
				},
			},
		}
	}
	return result
}

func buildResponseWithSchema(description, contentType, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			contentType: map[string]interface{}{
				"schema": map[string]interface{}{
					"$ref": schemaRef,
				},
			},
		},
	}
}

// convertPath rewrites echo path parameters into OpenAPI templates.
func convertPath(path string) (string, []string) {
	var params []string
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			params = append(params, name)
			segments[i] = "{" + name + "}"
		}
	}
	return strings.Join(segments, "/"), params
}

// operationID derives a stable camelCase id such as "getGrowthRecordsById".
func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "api" || seg == "v1" {
			continue
		}
		if strings.HasPrefix(seg, ":") {
			b.WriteString("By")
			seg = seg[1:]
		}
		for _, word := range strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' }) {
			b.WriteString(strings.ToUpper(word[:1]) + word[1:])
		}
	}
	return b.String()
}

func defaultTag(path string) string {
	if strings.HasPrefix(path, "/fhir/") {
		return "FHIR"
	}
	return "API"
}

func statusKey(code int) string {
	return strconv.Itoa(code)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildComponentSchemas merges the shared FHIR and error schemas with the
// ones registered through AddSchema.
func (g *Generator) buildComponentSchemas() map[string]interface{} {
	schemas := map[string]interface{}{
		"Error":            buildErrorSchema(),
		"Coding":           buildCodingSchema(),
		"CodeableConcept":  buildCodeableConceptSchema(),
		"Reference":        buildReferenceSchema(),
		"Quantity":         buildQuantitySchema(),
		"Bundle":           buildBundleSchema(),
		"BundleEntry":      buildBundleEntrySchema(),
		"OperationOutcome": buildOperationOutcomeSchema(),
	}
	for name, s := range g.schemas {
		schemas[name] = s
	}
	return schemas
}

// ── Core schemas ────────────────────────────────────────────────────────

func buildErrorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
	}
}

func buildCodingSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"system":  map[string]interface{}{"type": "string", "format": "uri"},
			"code":    map[string]interface{}{"type": "string"},
			"display": map[string]interface{}{"type": "string"},
		},
	}
}

func buildCodeableConceptSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"coding": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"$ref": "#/components/schemas/Coding"},
			},
			"text": map[string]interface{}{"type": "string"},
		},
	}
}

func buildReferenceSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reference": map[string]interface{}{"type": "string"},
			"display":   map[string]interface{}{"type": "string"},
		},
	}
}

func buildQuantitySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"value":  map[string]interface{}{"type": "number"},
			"unit":   map[string]interface{}{"type": "string"},
			"system": map[string]interface{}{"type": "string", "format": "uri"},
			"code":   map[string]interface{}{"type": "string"},
		},
	}
}

func buildBundleSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string", "enum": []string{"Bundle"}},
			"type":         map[string]interface{}{"type": "string", "enum": []string{"searchset"}},
			"total":        map[string]interface{}{"type": "integer", "minimum": 0},
			"entry": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"$ref": "#/components/schemas/BundleEntry"},
			},
		},
	}
}

func buildBundleEntrySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"fullUrl":  map[string]interface{}{"type": "string"},
			"resource": map[string]interface{}{"type": "object", "description": "The FHIR resource"},
		},
	}
}

func buildOperationOutcomeSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string", "enum": []string{"OperationOutcome"}},
			"issue": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"severity": map[string]interface{}{
							"type": "string",
							"enum": []string{"fatal", "error", "warning", "information"},
						},
						"code":        map[string]interface{}{"type": "string"},
						"diagnostics": map[string]interface{}{"type": "string"},
					},
					"required": []string{"severity", "code"},
				},
			},
		},
		"required": []string{"resourceType", "issue"},
	}
}

// RegisterRoutes registers GET /openapi.json. The document is rebuilt from
// e.Routes() on each request so routes added after registration are listed.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec(e.Routes()))
	})
}
