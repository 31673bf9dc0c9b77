package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
)

// Rate represents an exchange rate returned by a provider
type Rate struct {
	From      string
	To        string
	Value     float64
	Source    string    // Provider name
	FetchedAt time.Time // When the rate was fetched
}

// Pair returns the record key of the rate
func (r *Rate) Pair() string {
	return model.PairKey(r.From, r.To)
}

// RateProvider defines the interface for conversion rate providers
// This follows the adapter pattern - implementations can be swapped
type RateProvider interface {
	// GetRate returns the exchange rate from one currency to another
	GetRate(ctx context.Context, from, to string) (*Rate, error)

	// GetCountries returns the known countries sorted by name
	GetCountries(ctx context.Context) ([]model.Country, error)

	// GetCurrencies returns the known currencies sorted by code
	GetCurrencies(ctx context.Context) ([]model.Currency, error)

	// Name returns the provider name (e.g., "simulated", "currencyconverterapi")
	Name() string
}

// ErrUnsupportedPair is returned when a currency pair is not supported
type ErrUnsupportedPair struct {
	From string
	To   string
}

func (e ErrUnsupportedPair) Error() string {
	return "unsupported currency pair: " + e.From + "/" + e.To
}

// NetworkError is returned when a provider request is rejected or answers
// with a non-ok status
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// newNetworkError builds a NetworkError with the API key removed from its
// URL and from any wrapped error, whose messages may embed the request URL
func newNetworkError(rawURL string, statusCode int, err error, apiKey string) *NetworkError {
	if err != nil && apiKey != "" {
		err = &redactedError{err: err, secrets: []string{apiKey, url.QueryEscape(apiKey)}}
	}
	return &NetworkError{URL: RedactURL(rawURL), StatusCode: statusCode, Err: err}
}

// redactedError masks secrets in the message of the error it wraps
type redactedError struct {
	err     error
	secrets []string
}

func (e *redactedError) Error() string {
	msg := e.err.Error()
	for _, s := range e.secrets {
		msg = strings.ReplaceAll(msg, s, "REDACTED")
	}
	return msg
}

func (e *redactedError) Unwrap() error {
	return e.err
}

// apiKeyParam is the query parameter carrying the provider credential
const apiKeyParam = "apiKey"

// RedactURL drops the API key and any userinfo from a URL
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "(invalid url)"
	}
	u.User = nil
	q := u.Query()
	if q.Has(apiKeyParam) {
		q.Del(apiKeyParam)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// SortCountriesByName orders countries by name in place
func SortCountriesByName(countries []model.Country) {
	sort.SliceStable(countries, func(i, j int) bool {
		return countries[i].Name < countries[j].Name
	})
}

// DefaultFlagURLTemplate is the flag icon host used when none is configured
const DefaultFlagURLTemplate = "http://www.countryflags.io/{code}/flat/24.png"

// FlagURL returns the flag icon URL for an alpha-2 country code
func FlagURL(template, code string) string {
	if template == "" {
		template = DefaultFlagURLTemplate
	}
	if code == "" {
		code = "AD"
	}
	return strings.ReplaceAll(template, "{code}", strings.ToLower(code))
}
