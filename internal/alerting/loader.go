package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// LoadDefinitionsFromFile loads alert definitions from a YAML file.
func LoadDefinitionsFromFile(path string) ([]*models.Alert, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open definitions file: %w", err)
	}
	defer f.Close()

	return LoadDefinitions(f)
}

// LoadDefinitions loads and validates alert definitions from a reader.
func LoadDefinitions(r io.Reader) ([]*models.Alert, error) {
	var file DefinitionsFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse definitions YAML: %w", err)
	}
	return definitionsToAlerts(file.Alerts)
}

// LoadDefinitionsFromBytes loads alert definitions from YAML bytes.
func LoadDefinitionsFromBytes(data []byte) ([]*models.Alert, error) {
	var file DefinitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse definitions YAML: %w", err)
	}
	return definitionsToAlerts(file.Alerts)
}

func definitionsToAlerts(defs []*Definition) ([]*models.Alert, error) {
	alerts := make([]*models.Alert, 0, len(defs))
	names := make(map[string]bool, len(defs))
	for i, d := range defs {
		a, err := d.ToAlert()
		if err != nil {
			return nil, fmt.Errorf("invalid alert at index %d: %w", i, err)
		}
		if names[a.Name] {
			return nil, fmt.Errorf("duplicate alert name %q at index %d", a.Name, i)
		}
		names[a.Name] = true
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// SyncResult counts the outcome of SyncDefinitions.
type SyncResult struct {
	Created int
	Updated int
}

// SyncDefinitions upserts alerts by name. Existing alerts keep their id
// and trigger state. Alerts missing from defs are left untouched.
func SyncDefinitions(ctx context.Context, repo storage.AlertRepository, defs []*models.Alert, actor string) (SyncResult, error) {
	var res SyncResult
	now := time.Now().UTC()
	for _, def := range defs {
		existing, err := repo.GetByName(ctx, def.Name)
		if err != nil {
			return res, fmt.Errorf("get alert %q: %w", def.Name, err)
		}

		a := *def
		a.UpdatedAt = now
		a.UpdatedBy = actor
		if existing == nil {
			a.ID = ""
			a.CreatedAt = now
			a.CreatedBy = actor
			if err := repo.Create(ctx, &a); err != nil {
				return res, fmt.Errorf("create alert %q: %w", def.Name, err)
			}
			res.Created++
			continue
		}

		a.ID = existing.ID
		if err := repo.Update(ctx, &a); err != nil {
			return res, fmt.Errorf("update alert %q: %w", def.Name, err)
		}
		res.Updated++
	}
	return res, nil
}
