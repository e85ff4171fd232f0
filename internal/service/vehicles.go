package service

import (
	"encoding/json"
	"fmt"
	"os"
)

// Vehicle is one selectable vehicle class in the labeling UI.
type Vehicle struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Category    string `json:"category"`
}

// VehicleCatalog reads the vehicle list from disk on every call so edits
// to the file show up without a restart.
type VehicleCatalog struct {
	Path string
}

func (c VehicleCatalog) List() ([]Vehicle, error) {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read vehicles %s: %w", c.Path, err)
	}
	var out []Vehicle
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse vehicles %s: %w", c.Path, err)
	}
	if out == nil {
		out = []Vehicle{}
	}
	return out, nil
}
