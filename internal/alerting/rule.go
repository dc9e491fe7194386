// Package alerting evaluates alert conditions, gates triggers by throttle
// window, and manages the lifecycle of alert instances.
package alerting

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// DefaultThrottleMinutes applies to definitions that omit throttle_minutes.
const DefaultThrottleMinutes = 15

// Definition is an alert as written in a definitions file.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Type is one of the alert types, matched case-insensitively.
	Type            string              `yaml:"type"`
	Severity        string              `yaml:"severity,omitempty"`
	ThrottleMinutes int                 `yaml:"throttle_minutes,omitempty"`
	Enabled         *bool               `yaml:"enabled,omitempty"`
	Scope           models.Scope        `yaml:"scope,omitempty"`
	Notify          models.NotifyConfig `yaml:"notify,omitempty"`
	// Condition is decoded according to Type.
	Condition yaml.Node `yaml:"condition"`
}

// DefinitionsFile is the top-level layout of a definitions file.
type DefinitionsFile struct {
	Alerts []*Definition `yaml:"alerts"`
}

// IsEnabled returns whether the definition is active.
func (d *Definition) IsEnabled() bool {
	if d.Enabled == nil {
		return true
	}
	return *d.Enabled
}

// ParseAlertType matches s against the known alert types, ignoring case
// and underscores.
func ParseAlertType(s string) (models.AlertType, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, t := range models.AlertTypes {
		if strings.ToLower(string(t)) == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown alert type %q", s)
}

// ToAlert converts the definition to a validated alert without identity or
// trigger state.
func (d *Definition) ToAlert() (*models.Alert, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("alert name is required")
	}
	t, err := ParseAlertType(d.Type)
	if err != nil {
		return nil, fmt.Errorf("alert %q: %w", d.Name, err)
	}
	cond, err := models.NewCondition(t)
	if err != nil {
		return nil, err
	}
	if d.Condition.Kind != 0 {
		if err := d.Condition.Decode(cond); err != nil {
			return nil, fmt.Errorf("decode condition of alert %q: %w", d.Name, err)
		}
	}

	throttle := d.ThrottleMinutes
	if throttle == 0 {
		throttle = DefaultThrottleMinutes
	}
	alert := models.NewAlert(d.Name, models.ParseSeverity(d.Severity), cond, throttle)
	alert.Description = d.Description
	alert.IsActive = d.IsEnabled()
	alert.Scope = d.Scope
	alert.Notify = d.Notify
	if err := alert.Validate(); err != nil {
		return nil, err
	}
	return alert, nil
}
