package lms

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingObserver struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{counts: make(map[Outcome]int)}
}

func (o *countingObserver) ObserveZScore(_ ChartType, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[outcome]++
}

func (o *countingObserver) count(outcome Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[outcome]
}

func newTestEngine(t *testing.T, tables map[ChartType]map[Gender]Table) (*Engine, *countingObserver) {
	t.Helper()
	ds, err := NewDataset(tables)
	if err != nil {
		t.Fatalf("build dataset: %v", err)
	}
	obs := newCountingObserver()
	return NewEngine(ds, zerolog.Nop(), obs), obs
}

func TestEngine_CalculateInterpolatedWeight(t *testing.T) {
	engine, obs := newTestEngine(t, map[ChartType]map[Gender]Table{
		WeightForAge: {Boys: {
			{Day: 0, L: 0.35, M: 3.3, S: 0.15},
			{Day: 30, L: 0.30, M: 4.5, S: 0.14},
		}},
	})

	z, ok := engine.Calculate(WeightForAge, Boys, 15, 3.9)
	if !ok {
		t.Fatal("expected a Z-score")
	}

	l := 0.35 + 0.5*(0.30-0.35)
	m := 3.3 + 0.5*(4.5-3.3)
	s := 0.15 + 0.5*(0.14-0.15)
	if !approxEqual(l, 0.325, 1e-12) || !approxEqual(m, 3.9, 1e-12) || !approxEqual(s, 0.145, 1e-12) {
		t.Fatalf("interpolated LMS = (%v, %v, %v)", l, m, s)
	}
	want := (math.Pow(3.9/m, l) - 1) / (s * l)
	if !approxEqual(z, want, 1e-9) {
		t.Errorf("z = %v, want %v", z, want)
	}
	if !approxEqual(z, 0, 1e-9) {
		t.Errorf("median weight should score ~0, got %v", z)
	}
	if obs.count(OutcomeOK) != 1 {
		t.Errorf("ok outcomes = %d, want 1", obs.count(OutcomeOK))
	}
}

func TestEngine_CalculateAbsentOutcomes(t *testing.T) {
	engine, obs := newTestEngine(t, map[ChartType]map[Gender]Table{
		WeightForAge: {Boys: sampleTable()},
		BMIForAge:    {Girls: {{Day: 0, L: -0.06, M: 13.3, S: 0}}},
	})

	if _, ok := engine.Calculate(ChartType("wfh"), Boys, 10, 5); ok {
		t.Error("expected absent for unknown chart")
	}
	if _, ok := engine.Calculate(WeightForAge, Girls, 10, 5); ok {
		t.Error("expected absent for missing gender table")
	}
	if _, ok := engine.Calculate(BMIForAge, Girls, 10, 14); ok {
		t.Error("expected absent for zero S")
	}

	if got := obs.count(OutcomeNoTable); got != 2 {
		t.Errorf("no_table outcomes = %d, want 2", got)
	}
	if got := obs.count(OutcomeInvalidLMS); got != 1 {
		t.Errorf("invalid_lms outcomes = %d, want 1", got)
	}
}

func TestEngine_OutOfRangeAgesClamp(t *testing.T) {
	table := sampleTable()
	engine, _ := newTestEngine(t, map[ChartType]map[Gender]Table{WeightForAge: {Girls: table}})

	last := table[len(table)-1]
	z, ok := engine.Calculate(WeightForAge, Girls, 10_000_000, last.M)
	if !ok {
		t.Fatal("expected a Z-score")
	}
	if z != 0 {
		t.Errorf("z at last median = %v, want 0", z)
	}

	first := table[0]
	z, ok = engine.Calculate(WeightForAge, Girls, -30, first.M)
	if !ok {
		t.Fatal("expected a Z-score")
	}
	if z != 0 {
		t.Errorf("z at first median = %v, want 0", z)
	}
}

func TestEngine_NilObserver(t *testing.T) {
	ds, err := NewDataset(map[ChartType]map[Gender]Table{WeightForAge: {Boys: sampleTable()}})
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(ds, zerolog.Nop(), nil)
	if _, ok := engine.Calculate(WeightForAge, Boys, 10, 4); !ok {
		t.Error("expected a Z-score")
	}
	if _, ok := engine.Calculate(HeadCircumferenceForAge, Boys, 10, 4); ok {
		t.Error("expected absent")
	}
}

func TestEngine_ConcurrentCalculate(t *testing.T) {
	ds, err := BundledDataset()
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(ds, zerolog.Nop(), nil)
	want, ok := engine.Calculate(LengthHeightForAge, Girls, 200, 66)
	if !ok {
		t.Fatal("expected a Z-score")
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := engine.Calculate(LengthHeightForAge, Girls, 200, 66)
			if !ok || got != want {
				t.Errorf("concurrent result = (%v, %v), want (%v, true)", got, ok, want)
			}
		}()
	}
	wg.Wait()
}

func TestEngine_Curves(t *testing.T) {
	table := sampleTable()
	engine, _ := newTestEngine(t, map[ChartType]map[Gender]Table{WeightForAge: {Boys: table}})

	curves, ok := engine.Curves(WeightForAge, Boys, 0, 91, 1, []float64{50, 97, 0, 100})
	if !ok {
		t.Fatal("expected curves")
	}
	if len(curves) != 2 {
		t.Fatalf("expected 2 curves (0 and 100 skipped), got %d", len(curves))
	}

	median := curves[0]
	if median.Percentile != 50 || !approxEqual(median.Z, 0, 1e-12) {
		t.Errorf("median curve = %v / %v", median.Percentile, median.Z)
	}
	if len(median.Samples) != 92 {
		t.Errorf("expected 92 samples, got %d", len(median.Samples))
	}
	for _, p := range table {
		sample := median.Samples[p.Day]
		if sample.Day != p.Day || !approxEqual(sample.Value, p.M, 1e-9) {
			t.Errorf("day %d: median sample %+v, want M=%v", p.Day, sample, p.M)
		}
	}

	upper := curves[1]
	for i, sample := range upper.Samples {
		if sample.Value <= median.Samples[i].Value {
			t.Errorf("day %d: 97th (%v) not above median (%v)", sample.Day, sample.Value, median.Samples[i].Value)
		}
	}

	if _, ok := engine.Curves(BMIForAge, Boys, 0, 10, 1, nil); ok {
		t.Error("expected absent curves for missing table")
	}
}

func TestEngine_CurvesDefaults(t *testing.T) {
	engine, _ := newTestEngine(t, map[ChartType]map[Gender]Table{WeightForAge: {Boys: sampleTable()}})
	curves, ok := engine.Curves(WeightForAge, Boys, 0, 90, 0, nil)
	if !ok {
		t.Fatal("expected curves")
	}
	if len(curves) != len(DefaultPercentiles) {
		t.Errorf("expected %d curves, got %d", len(DefaultPercentiles), len(curves))
	}
	if len(curves[0].Samples) != 91 {
		t.Errorf("zero step should default to daily samples, got %d", len(curves[0].Samples))
	}
}

func TestEngine_CurvesNearMaxInt(t *testing.T) {
	engine, _ := newTestEngine(t, map[ChartType]map[Gender]Table{WeightForAge: {Boys: sampleTable()}})

	done := make(chan []Curve, 1)
	go func() {
		curves, _ := engine.Curves(WeightForAge, Boys, math.MaxInt-50, math.MaxInt, 30, []float64{50})
		done <- curves
	}()

	select {
	case curves := <-done:
		if len(curves) != 1 {
			t.Fatalf("expected 1 curve, got %d", len(curves))
		}
		samples := curves[0].Samples
		if len(samples) != 2 || samples[0].Day != math.MaxInt-50 || samples[1].Day != math.MaxInt-20 {
			t.Errorf("unexpected samples %+v", samples)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Curves did not return")
	}
}

func TestSampleDays(t *testing.T) {
	tests := []struct {
		name           string
		from, to, step int
		want           []int
	}{
		{"inclusive end", 0, 60, 30, []int{0, 30, 60}},
		{"partial last step", 0, 70, 30, []int{0, 30, 60}},
		{"single day", 5, 5, 7, []int{5}},
		{"empty range", 10, 5, 1, nil},
		{"max int end", math.MaxInt - 1, math.MaxInt, 1, []int{math.MaxInt - 1, math.MaxInt}},
		{"step larger than range", math.MaxInt - 3, math.MaxInt, math.MaxInt, []int{math.MaxInt - 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sampleDays(tt.from, tt.to, tt.step)
			if len(got) != len(tt.want) {
				t.Fatalf("sampleDays(%d, %d, %d) = %v, want %v", tt.from, tt.to, tt.step, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sampleDays(%d, %d, %d)[%d] = %d, want %d", tt.from, tt.to, tt.step, i, got[i], tt.want[i])
				}
			}
		})
	}
}
