// Package money represents currency amounts as integer cents.
package money

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Cents is an amount in the smallest currency unit.
type Cents int64

// FromFloat rounds a decimal amount to the nearest cent.
func FromFloat(f float64) Cents {
	return Cents(math.Round(f * 100))
}

// Float returns the amount in major units.
func (c Cents) Float() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON renders the amount as a JSON number with two decimals.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (c *Cents) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*c = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", string(data))
	}
	*c = FromFloat(f)
	return nil
}

var _ json.Marshaler = Cents(0)
