package models

import (
	"errors"
	"testing"
)

func validRule() *AutomationRule {
	threshold := 80.0
	return &AutomationRule{
		SourceSensorID: "sensor-1",
		Metric:         MetricFlowRate,
		Operator:       OpGreaterOrEqual,
		Threshold:      &threshold,
		ActionLabel:    "open relief valve",
		Method:         "POST",
		URL:            "http://valves.local/relief",
		TimeoutMs:      2000,
	}
}

func TestRuleValidate_OK(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
}

func TestRuleValidate_BooleanMetricRejectsNumericThreshold(t *testing.T) {
	r := validRule()
	r.Metric = MetricLeakDetected
	r.Operator = OpEqual

	err := r.Validate()
	if err == nil {
		t.Fatal("expected configuration error")
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
	if cfgErr.Field != "threshold" {
		t.Errorf("expected threshold field, got %q", cfgErr.Field)
	}
}

func TestRuleValidate_BooleanMetricRejectsOrderingOperator(t *testing.T) {
	r := validRule()
	r.Metric = MetricLeakDetected
	r.Threshold = nil
	b := true
	r.BoolThreshold = &b
	r.Operator = OpGreater

	if err := r.Validate(); err == nil {
		t.Fatal("expected configuration error for gt on boolean metric")
	}
}

func TestRuleValidate_NumericMetricRequiresThreshold(t *testing.T) {
	r := validRule()
	r.Threshold = nil
	if err := r.Validate(); err == nil {
		t.Fatal("expected configuration error for missing threshold")
	}
}

func TestRuleValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AutomationRule)
	}{
		{"empty sensor", func(r *AutomationRule) { r.SourceSensorID = "" }},
		{"unknown metric", func(r *AutomationRule) { r.Metric = "speed" }},
		{"offline metric", func(r *AutomationRule) { r.Metric = MetricOffline }},
		{"unknown operator", func(r *AutomationRule) { r.Operator = "between" }},
		{"bad method", func(r *AutomationRule) { r.Method = "FETCH" }},
		{"relative url", func(r *AutomationRule) { r.URL = "/hook" }},
		{"zero timeout", func(r *AutomationRule) { r.TimeoutMs = 0 }},
		{"negative cooldown", func(r *AutomationRule) { r.CooldownSeconds = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(r)
			if err := r.Validate(); err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}

func TestOperatorCompareNumeric(t *testing.T) {
	cases := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpLess, 1, 2, true},
		{OpLess, 2, 2, false},
		{OpLessOrEqual, 2, 2, true},
		{OpGreater, 3, 2, true},
		{OpGreaterOrEqual, 2, 2, true},
		{OpEqual, 2, 2, true},
		{OpNotEqual, 2, 2, false},
		{OpNotEqual, 1, 2, true},
	}
	for _, tc := range cases {
		if got := tc.op.CompareNumeric(tc.value, tc.threshold); got != tc.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tc.op, tc.value, tc.threshold, got, tc.want)
		}
	}
}

func TestOperatorCompareBool(t *testing.T) {
	if !OpEqual.CompareBool(true, true) {
		t.Error("eq(true, true) should match")
	}
	if OpNotEqual.CompareBool(true, true) {
		t.Error("neq(true, true) should not match")
	}
	// Ordering operators never match booleans.
	if OpGreater.CompareBool(true, false) {
		t.Error("gt should never match booleans")
	}
}

func TestReadingValueAccessor(t *testing.T) {
	flow := 42.5
	r := &Reading{FlowRate: &flow}

	if v, ok := r.Value(MetricFlowRate); !ok || v != 42.5 {
		t.Errorf("expected (42.5, true), got (%v, %v)", v, ok)
	}
	if _, ok := r.Value(MetricPressure); ok {
		t.Error("expected absent pressure")
	}
	if _, ok := r.Value(MetricLeakDetected); ok {
		t.Error("leak flag must not be readable as a numeric value")
	}
}

func TestSensorSetLastValues(t *testing.T) {
	flow := 10.0
	leak := true
	s := &Sensor{ID: "s1", Kind: KindComposite, Zone: "z"}
	r := &Reading{SensorID: "s1", FlowRate: &flow, LeakDetected: &leak}

	s.SetLastValues(r)

	if v, ok := s.LastValue(MetricFlowRate); !ok || v != 10.0 {
		t.Errorf("expected cached flow 10.0, got (%v, %v)", v, ok)
	}
	if s.LastLeak == nil || !*s.LastLeak {
		t.Error("expected cached leak flag")
	}
}
