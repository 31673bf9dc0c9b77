package provider

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
)

// baseRates contains realistic mid-market rates
// These are used as the foundation for simulated rates
var baseRates = map[string]float64{
	// USD pairs (US Dollar)
	"USD/ZMW": 18.20,
	"USD/EUR": 0.9250,
	"USD/GBP": 0.7920,
	"USD/SGD": 1.3423,
	"USD/PHP": 57.05,
	"USD/INR": 83.60,
	"USD/NGN": 1450.00,
	"USD/KES": 129.50,
	"USD/ZAR": 18.45,

	// EUR pairs (Euro)
	"EUR/USD": 1.0810,
	"EUR/GBP": 0.8560,
	"EUR/ZMW": 19.70,

	// GBP pairs (British Pound)
	"GBP/USD": 1.2630,
	"GBP/EUR": 1.1680,
}

// simulatedCountries is the offline country list
var simulatedCountries = []model.Country{
	{ID: "ZM", Name: "Zambia", CurrencyID: "ZMW", CurrencyName: "Zambian kwacha", CurrencySymbol: "ZK"},
	{ID: "US", Name: "United States of America", CurrencyID: "USD", CurrencyName: "United States dollar", CurrencySymbol: "$"},
	{ID: "GB", Name: "United Kingdom", CurrencyID: "GBP", CurrencyName: "British pound", CurrencySymbol: "£"},
	{ID: "DE", Name: "Germany", CurrencyID: "EUR", CurrencyName: "European euro", CurrencySymbol: "€"},
	{ID: "SG", Name: "Singapore", CurrencyID: "SGD", CurrencyName: "Singapore dollar", CurrencySymbol: "$"},
	{ID: "PH", Name: "Philippines", CurrencyID: "PHP", CurrencyName: "Philippine peso", CurrencySymbol: "₱"},
	{ID: "IN", Name: "India", CurrencyID: "INR", CurrencyName: "Indian rupee", CurrencySymbol: "₹"},
	{ID: "NG", Name: "Nigeria", CurrencyID: "NGN", CurrencyName: "Nigerian naira", CurrencySymbol: "₦"},
	{ID: "KE", Name: "Kenya", CurrencyID: "KES", CurrencyName: "Kenyan shilling", CurrencySymbol: "KSh"},
	{ID: "ZA", Name: "South Africa", CurrencyID: "ZAR", CurrencyName: "South African rand", CurrencySymbol: "R"},
}

// SimulatedProviderConfig configures the simulated rate provider
type SimulatedProviderConfig struct {
	// MaxDrift is the maximum random drift percentage (default 2%)
	MaxDrift float64

	// DriftInterval is how often rates drift (default 5 seconds)
	DriftInterval time.Duration

	// Seed for random number generator (0 for current time)
	Seed int64
}

// DefaultSimulatedConfig returns default configuration
func DefaultSimulatedConfig() SimulatedProviderConfig {
	return SimulatedProviderConfig{
		MaxDrift:      0.02, // 2%
		DriftInterval: 5 * time.Second,
		Seed:          0,
	}
}

// SimulatedProvider provides simulated exchange rates and a fixed country
// list, for running without the remote API
type SimulatedProvider struct {
	config       SimulatedProviderConfig
	rng          *rand.Rand
	mu           sync.RWMutex
	currentDrift map[string]float64 // Current drift per pair
	lastDrift    time.Time          // When drift was last updated
}

// NewSimulatedProvider creates a new simulated rate provider
func NewSimulatedProvider(config SimulatedProviderConfig) *SimulatedProvider {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &SimulatedProvider{
		config:       config,
		rng:          rand.New(rand.NewSource(seed)),
		currentDrift: make(map[string]float64),
		lastDrift:    time.Time{},
	}
}

// Name returns the provider name
func (p *SimulatedProvider) Name() string {
	return "simulated"
}

// GetRate returns the exchange rate for a single currency pair
func (p *SimulatedProvider) GetRate(ctx context.Context, from, to string) (*Rate, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	p.updateDriftIfNeeded()

	mid, err := p.getMidRate(from, to)
	if err != nil {
		return nil, err
	}

	return &Rate{
		From:      from,
		To:        to,
		Value:     mid,
		Source:    p.Name(),
		FetchedAt: time.Now(),
	}, nil
}

// GetCountries returns the built-in countries sorted by name
func (p *SimulatedProvider) GetCountries(ctx context.Context) ([]model.Country, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	countries := make([]model.Country, len(simulatedCountries))
	copy(countries, simulatedCountries)
	SortCountriesByName(countries)
	return countries, nil
}

// GetCurrencies returns the currencies of the built-in countries
func (p *SimulatedProvider) GetCurrencies(ctx context.Context) ([]model.Currency, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	seen := make(map[string]bool)
	currencies := make([]model.Currency, 0, len(simulatedCountries))
	for _, c := range simulatedCountries {
		if seen[c.CurrencyID] {
			continue
		}
		seen[c.CurrencyID] = true
		currencies = append(currencies, model.Currency{
			ID:             c.CurrencyID,
			CurrencyName:   c.CurrencyName,
			CurrencySymbol: c.CurrencySymbol,
		})
	}
	sort.Slice(currencies, func(i, j int) bool {
		return currencies[i].ID < currencies[j].ID
	})
	return currencies, nil
}

// getMidRate returns the mid-market rate with drift applied
func (p *SimulatedProvider) getMidRate(from, to string) (float64, error) {
	if from == to {
		return 1, nil
	}

	directKey := from + "/" + to
	inverseKey := to + "/" + from

	p.mu.RLock()
	drift := p.currentDrift[directKey]
	inverseDrift := p.currentDrift[inverseKey]
	p.mu.RUnlock()

	// Check direct rate
	if baseRate, ok := baseRates[directKey]; ok {
		return baseRate * (1 + drift), nil
	}

	// Check inverse rate
	if baseRate, ok := baseRates[inverseKey]; ok {
		return 1.0 / (baseRate * (1 + inverseDrift)), nil
	}

	// Try to calculate via USD as intermediate
	if from != "USD" && to != "USD" {
		fromToUSD, errFrom := p.getMidRate(from, "USD")
		usdToTarget, errTo := p.getMidRate("USD", to)
		if errFrom == nil && errTo == nil {
			return fromToUSD * usdToTarget, nil
		}
	}

	return 0, ErrUnsupportedPair{From: from, To: to}
}

// updateDriftIfNeeded updates rate drift if enough time has passed
func (p *SimulatedProvider) updateDriftIfNeeded() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastDrift) < p.config.DriftInterval {
		return
	}

	// Update drift for all base pairs
	for pair := range baseRates {
		// Random drift between -MaxDrift and +MaxDrift
		drift := (p.rng.Float64()*2 - 1) * p.config.MaxDrift
		p.currentDrift[pair] = drift
	}

	p.lastDrift = time.Now()
}

// SetDrift manually sets drift for a currency pair (useful for testing)
func (p *SimulatedProvider) SetDrift(from, to string, drift float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentDrift[from+"/"+to] = drift
	// Keep the manual value until the next interval
	p.lastDrift = time.Now()
}

// ResetDrift resets all drift to zero
func (p *SimulatedProvider) ResetDrift() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentDrift = make(map[string]float64)
	p.lastDrift = time.Time{}
}
