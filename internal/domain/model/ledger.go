// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Weights maps a customer name to the weight recorded for that customer.
type Weights map[string]Weight

// WasteType is one category of recyclable material and its per-customer ledger.
type WasteType struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Weights Weights `json:"weights"`
}

// Customer is a registered depositor ("nasabah"). Name is the natural key.
type Customer struct {
	Name         string `json:"name"`
	RegisteredAt string `json:"registered_at"`
}

// WeightOf returns the customer's weight or ZeroWeight when none is recorded.
func (w WasteType) WeightOf(customer string) Weight {
	return w.Weights[customer]
}

// Total sums every recorded weight of the waste type.
func (w WasteType) Total() Weight {
	var t Weight
	for _, v := range w.Weights {
		t = t.Add(v)
	}
	return t
}

// UnmarshalJSON reads an object of weights. Anything that is not an object,
// null included, yields an empty map; malformed values become ZeroWeight.
func (ws *Weights) UnmarshalJSON(b []byte) error {
	var m map[string]Weight
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		*ws = Weights{}
		return nil
	}
	*ws = m
	return nil
}

// ParseWeights converts raw user input keyed by waste type name into Weights.
func ParseWeights(raw map[string]string) Weights {
	out := make(Weights, len(raw))
	for k, v := range raw {
		out[k] = ParseWeight(v)
	}
	return out
}

// ValidateName rejects names that are blank once trimmed.
func ValidateName(kind, name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", fmt.Errorf("%w: %s name must not be blank", ErrInvalidName, kind)
	}
	return n, nil
}
