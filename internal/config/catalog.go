package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cabinbook/internal/model"
)

// CabinConfig is one entry of cabins.yaml.
type CabinConfig struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
	Access   string `yaml:"access"`
	Status   string `yaml:"status"`
}

// RequesterConfig is one entry of the requesters list.
type RequesterConfig struct {
	ID        int64  `yaml:"id"`
	Name      string `yaml:"name"`
	Privilege string `yaml:"privilege"`
	Active    *bool  `yaml:"active,omitempty"`
	ChatID    int64  `yaml:"chat_id,omitempty"`
}

// CatalogConfig is the root of cabins.yaml: the cabins and the people who
// may book them.
type CatalogConfig struct {
	Cabins     []CabinConfig     `yaml:"cabins"`
	Requesters []RequesterConfig `yaml:"requesters"`

	cabins     []model.Cabin
	requesters []model.Requester
}

// LoadCatalog loads and validates the catalogue file.
func LoadCatalog(path string) (*CatalogConfig, error) {
	if path == "" {
		path = "configs/cabins.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*CatalogConfig, error) {
	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &cfg, nil
}

// Validate checks ids and enum values, and builds the model rows.
func (c *CatalogConfig) Validate() error {
	if len(c.Cabins) == 0 {
		return fmt.Errorf("no cabins defined")
	}

	c.cabins = c.cabins[:0]
	ids := make(map[int64]bool, len(c.Cabins))
	names := make(map[string]bool, len(c.Cabins))
	for i, cab := range c.Cabins {
		if cab.ID <= 0 {
			return fmt.Errorf("cabin[%d]: id must be positive, got %d", i, cab.ID)
		}
		if ids[cab.ID] {
			return fmt.Errorf("cabin[%d]: duplicate id %d", i, cab.ID)
		}
		ids[cab.ID] = true

		if cab.Name == "" {
			return fmt.Errorf("cabin[%d]: name is required", i)
		}
		if names[cab.Name] {
			return fmt.Errorf("cabin[%d]: duplicate name '%s'", i, cab.Name)
		}
		names[cab.Name] = true

		if cab.Capacity < 0 {
			return fmt.Errorf("cabin[%d]: capacity cannot be negative", i)
		}
		access, err := model.ParseAccessClass(defaultString(cab.Access, string(model.AccessGeneral)))
		if err != nil {
			return fmt.Errorf("cabin[%d]: %w", i, err)
		}
		status, err := model.ParseCabinStatus(defaultString(cab.Status, string(model.CabinActive)))
		if err != nil {
			return fmt.Errorf("cabin[%d]: %w", i, err)
		}
		c.cabins = append(c.cabins, model.Cabin{
			ID:       cab.ID,
			Name:     cab.Name,
			Capacity: cab.Capacity,
			Access:   access,
			Status:   status,
		})
	}

	c.requesters = c.requesters[:0]
	seen := make(map[int64]bool, len(c.Requesters))
	for i, r := range c.Requesters {
		if r.ID <= 0 {
			return fmt.Errorf("requester[%d]: id must be positive, got %d", i, r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("requester[%d]: duplicate id %d", i, r.ID)
		}
		seen[r.ID] = true

		privilege, err := model.ParsePrivilege(defaultString(r.Privilege, string(model.PrivilegeNormal)))
		if err != nil {
			return fmt.Errorf("requester[%d]: %w", i, err)
		}
		active := true
		if r.Active != nil {
			active = *r.Active
		}
		c.requesters = append(c.requesters, model.Requester{
			ID:        r.ID,
			Name:      r.Name,
			Privilege: privilege,
			Active:    active,
			ChatID:    r.ChatID,
		})
	}
	return nil
}

// Models returns the validated cabins and requesters.
func (c *CatalogConfig) Models() ([]model.Cabin, []model.Requester) {
	return append([]model.Cabin(nil), c.cabins...), append([]model.Requester(nil), c.requesters...)
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
