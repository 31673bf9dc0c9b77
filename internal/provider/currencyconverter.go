package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public currency converter API
const DefaultBaseURL = "https://free.currencyconverterapi.com/api/v5"

// CurrencyConverterConfig configures the currency converter API client
type CurrencyConverterConfig struct {
	BaseURL string
	APIKey  string // Optional, sent as the apiKey query parameter
	Timeout time.Duration
}

// CurrencyConverterProvider fetches rates and reference data from the
// currency converter API. Every request goes through the given client, so
// a caching transport can answer repeated lookups offline.
type CurrencyConverterProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewCurrencyConverterProvider creates an API client. A nil client gets a
// plain one with the configured timeout.
func NewCurrencyConverterProvider(cfg CurrencyConverterConfig, client *http.Client, logger *zap.Logger) *CurrencyConverterProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &CurrencyConverterProvider{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger.With(zap.String("provider", "currencyconverterapi")),
	}
}

// Name returns the provider name
func (p *CurrencyConverterProvider) Name() string {
	return "currencyconverterapi"
}

// CountriesURL returns the endpoint listing countries
func (p *CurrencyConverterProvider) CountriesURL() string {
	return p.endpoint("/countries", nil)
}

func (p *CurrencyConverterProvider) endpoint(path string, query url.Values) string {
	if p.apiKey != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set(apiKeyParam, p.apiKey)
	}
	if len(query) == 0 {
		return p.baseURL + path
	}
	return p.baseURL + path + "?" + query.Encode()
}

// getJSON performs a single GET and decodes the body into out
func (p *CurrencyConverterProvider) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return newNetworkError(rawURL, 0, err, p.apiKey)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newNetworkError(rawURL, resp.StatusCode, nil, p.apiKey)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", RedactURL(rawURL), err)
	}
	return nil
}

// GetRate fetches the rate for one pair
func (p *CurrencyConverterProvider) GetRate(ctx context.Context, from, to string) (*Rate, error) {
	pair := model.PairKey(from, to)
	query := url.Values{}
	query.Set("q", pair)
	query.Set("compact", "ultra")

	var result map[string]float64
	if err := p.getJSON(ctx, p.endpoint("/convert", query), &result); err != nil {
		return nil, err
	}

	rate, ok := result[pair]
	if !ok {
		return nil, ErrUnsupportedPair{From: from, To: to}
	}

	p.logger.Debug("Fetched rate",
		zap.String("pair", pair),
		zap.Float64("rate", rate),
	)

	return &Rate{
		From:      from,
		To:        to,
		Value:     rate,
		Source:    p.Name(),
		FetchedAt: time.Now(),
	}, nil
}

// GetCountries fetches the country list, sorted by name
func (p *CurrencyConverterProvider) GetCountries(ctx context.Context) ([]model.Country, error) {
	var result struct {
		Results map[string]model.Country `json:"results"`
	}
	if err := p.getJSON(ctx, p.CountriesURL(), &result); err != nil {
		return nil, err
	}

	countries := make([]model.Country, 0, len(result.Results))
	for code, c := range result.Results {
		if c.ID == "" {
			c.ID = code
		}
		countries = append(countries, c)
	}
	SortCountriesByName(countries)
	return countries, nil
}

// GetCurrencies fetches the currency list, sorted by code
func (p *CurrencyConverterProvider) GetCurrencies(ctx context.Context) ([]model.Currency, error) {
	var result struct {
		Results map[string]model.Currency `json:"results"`
	}
	if err := p.getJSON(ctx, p.endpoint("/currencies", nil), &result); err != nil {
		return nil, err
	}

	currencies := make([]model.Currency, 0, len(result.Results))
	for code, c := range result.Results {
		if c.ID == "" {
			c.ID = code
		}
		currencies = append(currencies, c)
	}
	sort.Slice(currencies, func(i, j int) bool {
		return currencies[i].ID < currencies[j].ID
	})
	return currencies, nil
}
