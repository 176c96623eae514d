package models

import (
	"fmt"
	"net/url"
	"time"
)

// Operator is a threshold comparison operator.
type Operator string

const (
	OpLess           Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpGreater        Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "neq"
)

// IsValid returns true when the operator is supported.
func (o Operator) IsValid() bool {
	switch o {
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// CompareNumeric applies the operator to two numeric operands.
func (o Operator) CompareNumeric(value, threshold float64) bool {
	switch o {
	case OpLess:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpGreater:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return false
	}
}

// CompareBool applies the operator to two boolean operands. Ordering
// operators never match booleans.
func (o Operator) CompareBool(value, threshold bool) bool {
	switch o {
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return false
	}
}

// AutomationRule binds a sensor metric condition to an outbound HTTP action.
type AutomationRule struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SourceSensorID string `json:"source_sensor_id"`
	TargetSensorID string `json:"target_sensor_id,omitempty"`

	Metric   Metric   `json:"metric"`
	Operator Operator `json:"operator"`

	// Exactly one threshold is set, matching the metric kind.
	Threshold     *float64 `json:"threshold,omitempty"`
	BoolThreshold *bool    `json:"bool_threshold,omitempty"`

	// Outbound action
	ActionLabel     string            `json:"action_label"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	PayloadTemplate map[string]any    `json:"payload_template,omitempty"`
	TimeoutMs       int               `json:"timeout_ms"`

	CooldownSeconds int  `json:"cooldown_seconds"`
	Enabled         bool `json:"enabled"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// ConfigurationError reports a malformed rule definition. It is raised
// at rule creation so invalid rules never reach evaluation.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid rule configuration: %s: %s", e.Field, e.Reason)
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Validate checks rule invariants, including the metric/threshold type
// match the evaluator later assumes.
func (r *AutomationRule) Validate() error {
	if r.SourceSensorID == "" {
		return &ConfigurationError{Field: "sourceSensorId", Reason: "cannot be empty"}
	}
	if !r.Metric.IsValid() || r.Metric == MetricOffline {
		return &ConfigurationError{Field: "metric", Reason: fmt.Sprintf("unknown metric %q", r.Metric)}
	}
	if !r.Operator.IsValid() {
		return &ConfigurationError{Field: "operator", Reason: fmt.Sprintf("unknown operator %q", r.Operator)}
	}
	if r.Metric.Boolean() {
		if r.BoolThreshold == nil {
			return &ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("metric %q requires a boolean threshold", r.Metric)}
		}
		if r.Threshold != nil {
			return &ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("metric %q cannot take a numeric threshold", r.Metric)}
		}
		if r.Operator != OpEqual && r.Operator != OpNotEqual {
			return &ConfigurationError{Field: "operator", Reason: "boolean metrics only support eq and neq"}
		}
	} else {
		if r.Threshold == nil {
			return &ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("metric %q requires a numeric threshold", r.Metric)}
		}
		if r.BoolThreshold != nil {
			return &ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("metric %q cannot take a boolean threshold", r.Metric)}
		}
	}
	if !allowedMethods[r.Method] {
		return &ConfigurationError{Field: "method", Reason: fmt.Sprintf("unsupported HTTP method %q", r.Method)}
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if r.TimeoutMs <= 0 {
		return &ConfigurationError{Field: "timeoutMs", Reason: "must be positive"}
	}
	if r.CooldownSeconds < 0 {
		return &ConfigurationError{Field: "cooldownSeconds", Reason: "cannot be negative"}
	}
	return nil
}

// Cooldown returns the rule cooldown as a duration.
func (r *AutomationRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Timeout returns the dispatch timeout as a duration.
func (r *AutomationRule) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}
