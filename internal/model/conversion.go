package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PairSeparator joins the source and target currency codes of a pair key
const PairSeparator = "_"

// ConversionRecord is a single entry in the recent conversions history.
// Records are keyed by Currencies, so converting the same pair again
// replaces the previous record.
type ConversionRecord struct {
	Currencies string  `json:"currencies"`
	Rate       float64 `json:"rate"`
	Amount     float64 `json:"amount"`
	Timestamp  int64   `json:"timestamp"` // milliseconds since epoch
}

// PairKey builds the record key for a conversion from one currency to another
func PairKey(from, to string) string {
	return from + PairSeparator + to
}

// SplitPair returns the source and target currency codes of a pair key
func SplitPair(key string) (from, to string) {
	from, to, _ = strings.Cut(key, PairSeparator)
	return from, to
}

// From returns the source currency code
func (r ConversionRecord) From() string {
	from, _ := SplitPair(r.Currencies)
	return from
}

// To returns the target currency code
func (r ConversionRecord) To() string {
	_, to := SplitPair(r.Currencies)
	return to
}

// Time returns the record timestamp as a time.Time
func (r ConversionRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// ConvertRequest represents a request to convert an amount between two currencies
type ConvertRequest struct {
	From   string  `json:"from" binding:"required"`
	To     string  `json:"to" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
}

// Conversion is the result of a successful conversion
type Conversion struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    float64         `json:"amount"`
	Rate      float64         `json:"rate"`
	Converted decimal.Decimal `json:"converted"` // Rounded to 2 decimal places
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}
