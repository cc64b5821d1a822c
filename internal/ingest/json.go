package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gassentry/internal/normalize"
)

// ParsePayload decodes the sensor body {"co":int,"gas":int,"temp":float}.
// Extra keys are ignored; missing or non-numeric fields are errors.
func ParsePayload(data []byte) (normalize.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return normalize.Fields{}, fmt.Errorf("decode payload: %w", err)
	}
	if obj == nil {
		return normalize.Fields{}, errors.New("decode payload: not an object")
	}
	co, err := normalize.Integer(obj["co"])
	if err != nil {
		return normalize.Fields{}, fmt.Errorf("co: %w", err)
	}
	gas, err := normalize.Integer(obj["gas"])
	if err != nil {
		return normalize.Fields{}, fmt.Errorf("gas: %w", err)
	}
	temp, err := normalize.Float(obj["temp"])
	if err != nil {
		return normalize.Fields{}, fmt.Errorf("temp: %w", err)
	}
	return normalize.Fields{CO: co, Gas: gas, Temp: temp}, nil
}
