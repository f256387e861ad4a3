package lms

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"sync"
)

//go:embed reference/growth_reference.json
var bundledReference []byte

// Dataset holds one reference table per chart type and gender. It is
// immutable once built and safe for concurrent readers.
type Dataset struct {
	tables map[ChartType]map[Gender]Table
}

// TableSummary describes one table of a Dataset.
type TableSummary struct {
	Chart    ChartType `json:"chart"`
	Gender   Gender    `json:"gender"`
	Points   int       `json:"points"`
	FirstDay int       `json:"first_day"`
	LastDay  int       `json:"last_day"`
}

// NewDataset copies tables, sorts every table by day and rejects duplicate
// days. Unknown chart types or genders are an error.
func NewDataset(tables map[ChartType]map[Gender]Table) (*Dataset, error) {
	ds := &Dataset{tables: make(map[ChartType]map[Gender]Table, len(tables))}
	for chart, byGender := range tables {
		if !chart.Valid() {
			return nil, fmt.Errorf("unknown chart type %q", chart)
		}
		for gender, table := range byGender {
			if !gender.Valid() {
				return nil, fmt.Errorf("chart %s: unknown gender %q", chart, gender)
			}
			sorted := slices.Clone(table)
			sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Day < sorted[j].Day })
			for i := 1; i < len(sorted); i++ {
				if sorted[i].Day == sorted[i-1].Day {
					return nil, fmt.Errorf("chart %s/%s: duplicate day %d", chart, gender, sorted[i].Day)
				}
			}
			if ds.tables[chart] == nil {
				ds.tables[chart] = make(map[Gender]Table, 2)
			}
			ds.tables[chart][gender] = sorted
		}
	}
	return ds, nil
}

// Lookup returns the table for chart and gender. It reports false when the
// chart type is unknown, the gender has no table, or the table is empty.
func (d *Dataset) Lookup(chart ChartType, gender Gender) (Table, bool) {
	if d == nil || !chart.Valid() {
		return nil, false
	}
	table, ok := d.tables[chart][gender]
	if !ok || len(table) == 0 {
		return nil, false
	}
	return table, true
}

// Charts summarises every non-empty table in chart then gender order.
func (d *Dataset) Charts() []TableSummary {
	var out []TableSummary
	if d == nil {
		return out
	}
	for _, chart := range ChartTypes {
		for _, gender := range []Gender{Boys, Girls} {
			table, ok := d.Lookup(chart, gender)
			if !ok {
				continue
			}
			out = append(out, TableSummary{
				Chart:    chart,
				Gender:   gender,
				Points:   len(table),
				FirstDay: table[0].Day,
				LastDay:  table[len(table)-1].Day,
			})
		}
	}
	return out
}

// ParseDataset decodes a reference document keyed chart -> gender -> rows.
// Keys that do not name a known chart type or gender are skipped.
func ParseDataset(r io.Reader) (*Dataset, error) {
	var raw map[string]map[string][]Point
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode growth reference: %w", err)
	}

	tables := make(map[ChartType]map[Gender]Table, len(raw))
	for chartKey, byGender := range raw {
		chart := ChartType(chartKey)
		if !chart.Valid() {
			continue
		}
		for genderKey, rows := range byGender {
			gender := Gender(genderKey)
			if !gender.Valid() {
				continue
			}
			if tables[chart] == nil {
				tables[chart] = make(map[Gender]Table, 2)
			}
			tables[chart][gender] = rows
		}
	}
	return NewDataset(tables)
}

// LoadDatasetFile reads a reference document from path.
func LoadDatasetFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open growth reference: %w", err)
	}
	defer f.Close()
	return ParseDataset(f)
}

// BundledDataset returns the reference tables compiled into the binary. The
// document is parsed on first use only; concurrent first callers share the
// single load.
var BundledDataset = sync.OnceValues(func() (*Dataset, error) {
	return ParseDataset(bytes.NewReader(bundledReference))
})
