package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Known trade lanes
const (
	LaneMowing       = "mowing"
	LanePressureWash = "pressure_wash"
	LaneJunkRemoval  = "junk_removal"
	LaneHandyman     = "handyman"
)

// DefaultHandymanHourly is used when the handyman lane has no hourly rate configured
const DefaultHandymanHourly = 75.0

// MetroIndex holds the labor index of a single metro area
type MetroIndex struct {
	Name       string
	LaborIndex *float64
}

// StateIndex holds a state's labor index and its metros in configuration order
type StateIndex struct {
	LaborIndex *float64
	Metros     []MetroIndex
}

// LaborIndexTable maps state codes to labor indices
type LaborIndexTable map[string]StateIndex

// TradeLane holds the pricing configuration for a single lane
type TradeLane struct {
	BaseNashville       *float64 `json:"baseNashville,omitempty"`
	BaseNashvilleHourly *float64 `json:"baseNashvilleHourly,omitempty"`
	Min                 *float64 `json:"min,omitempty"`
	Max                 *float64 `json:"max,omitempty"`
}

// TradeLaneTable maps lane identifiers to lane configuration
type TradeLaneTable map[string]TradeLane

// UnmarshalJSON decodes a state record, keeping metros in file order.
func (s *StateIndex) UnmarshalJSON(data []byte) error {
	var raw struct {
		LaborIndex *float64        `json:"laborIndex"`
		Metros     json.RawMessage `json:"metros"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.LaborIndex = raw.LaborIndex
	s.Metros = nil

	if len(raw.Metros) == 0 || string(raw.Metros) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Metros))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metros must be an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected metro key %v", tok)
		}

		var metro struct {
			LaborIndex *float64 `json:"laborIndex"`
		}
		if err := dec.Decode(&metro); err != nil {
			return fmt.Errorf("metro %q: %w", name, err)
		}
		s.Metros = append(s.Metros, MetroIndex{Name: name, LaborIndex: metro.LaborIndex})
	}

	_, err = dec.Token()
	return err
}

// Validate checks that every configured index is positive
func (t LaborIndexTable) Validate() error {
	for code, state := range t {
		if state.LaborIndex != nil && *state.LaborIndex <= 0 {
			return fmt.Errorf("state %s: laborIndex must be positive", code)
		}
		for _, metro := range state.Metros {
			if metro.LaborIndex != nil && *metro.LaborIndex <= 0 {
				return fmt.Errorf("state %s metro %s: laborIndex must be positive", code, metro.Name)
			}
		}
	}
	return nil
}

// Validate checks base prices and bounds of every lane
func (t TradeLaneTable) Validate() error {
	for id, lane := range t {
		if lane.BaseNashville != nil && *lane.BaseNashville <= 0 {
			return fmt.Errorf("lane %s: baseNashville must be positive", id)
		}
		if lane.BaseNashvilleHourly != nil && *lane.BaseNashvilleHourly <= 0 {
			return fmt.Errorf("lane %s: baseNashvilleHourly must be positive", id)
		}
		if lane.Min != nil && lane.Max != nil && *lane.Min > *lane.Max {
			return fmt.Errorf("lane %s: min %.2f exceeds max %.2f", id, *lane.Min, *lane.Max)
		}
	}
	return nil
}

// LoadLaborIndexTable reads and validates a labor index table from a JSON file
func LoadLaborIndexTable(path string) (LaborIndexTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labor index file: %w", err)
	}

	var table LaborIndexTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse labor index file: %w", err)
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	return table, nil
}

// LoadTradeLaneTable reads and validates a trade lane table from a JSON file
func LoadTradeLaneTable(path string) (TradeLaneTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trades file: %w", err)
	}

	var table TradeLaneTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse trades file: %w", err)
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	return table, nil
}
