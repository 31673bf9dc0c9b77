package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/events"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/patteeraL/movra/services/currency-converter/internal/provider"
	"github.com/patteeraL/movra/services/currency-converter/internal/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// noCurrency is the placeholder value of an unselected currency
const noCurrency = "none"

// maxFlagBytes caps a proxied flag icon
const maxFlagBytes = 1 << 20

// ValidationError is returned for a conversion request the UI should not have sent
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ClientMessage returns the text of err that is safe to show API clients.
// Wrapped upstream detail stays in the logs.
func ClientMessage(err error) string {
	var (
		validation  *ValidationError
		network     *provider.NetworkError
		unsupported provider.ErrUnsupportedPair
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &unsupported):
		return unsupported.Error()
	case errors.As(err, &network):
		if network.StatusCode != 0 {
			return fmt.Sprintf("upstream service returned status %d", network.StatusCode)
		}
		return "upstream service unreachable"
	default:
		return "internal error"
	}
}

// Trimmer applies the recent conversions limit
type Trimmer interface {
	Enforce(ctx context.Context) (int, error)
	KeepCount() int
}

// Recorder receives service measurements
type Recorder interface {
	RecordConversion(source, target, status string, durationSeconds float64)
	RecordProviderRequest(provider, status string, durationSeconds float64)
	RecordProviderError(provider, errorType string)
	RecordEventPublished(ok bool)
}

// Config holds service options
type Config struct {
	// FlagURLTemplate builds the upstream flag icon URL, "{code}" is replaced
	FlagURLTemplate string
	// FlagPathPrefix is prepended to a country code to form Country.FlagURL
	FlagPathPrefix string
}

// Asset is a proxied static resource
type Asset struct {
	ContentType string
	Body        []byte
}

// ConverterService handles conversions and the recent conversions history
type ConverterService struct {
	config    Config
	provider  provider.RateProvider
	store     repository.RecordStore
	retention Trimmer
	publisher events.Publisher
	assets    *http.Client
	metrics   Recorder
	state     *AppState
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewConverterService creates a new ConverterService with dependency injection.
// publisher and metrics may be nil.
func NewConverterService(
	cfg Config,
	rateProvider provider.RateProvider,
	store repository.RecordStore,
	trimmer Trimmer,
	publisher events.Publisher,
	assets *http.Client,
	metrics Recorder,
	logger *zap.Logger,
) *ConverterService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if assets == nil {
		assets = http.DefaultClient
	}
	return &ConverterService{
		config:    cfg,
		provider:  rateProvider,
		store:     store,
		retention: trimmer,
		publisher: publisher,
		assets:    assets,
		metrics:   metrics,
		state:     NewAppState(),
		logger:    logger,
		tracer:    otel.Tracer("currency-converter/service"),
	}
}

// State returns the application state
func (s *ConverterService) State() model.AppStatus {
	return s.state.Snapshot()
}

// ProviderName returns the name of the rate provider in use
func (s *ConverterService) ProviderName() string {
	return s.provider.Name()
}

// validateConversion normalizes the request and rejects what the UI would
// not submit: a missing or malformed currency, the same currency on both
// sides, a non-positive amount
func validateConversion(req *model.ConvertRequest) error {
	req.From = strings.ToUpper(strings.TrimSpace(req.From))
	req.To = strings.ToUpper(strings.TrimSpace(req.To))

	if req.From == "" || strings.EqualFold(req.From, noCurrency) {
		return &ValidationError{Field: "from", Message: "select a currency to convert from"}
	}
	if !isCurrencyCode(req.From) {
		return &ValidationError{Field: "from", Message: "expected a three-letter currency code"}
	}
	if req.To == "" || strings.EqualFold(req.To, noCurrency) {
		return &ValidationError{Field: "to", Message: "select a currency to convert to"}
	}
	if !isCurrencyCode(req.To) {
		return &ValidationError{Field: "to", Message: "expected a three-letter currency code"}
	}
	if req.From == req.To {
		return &ValidationError{Field: "to", Message: "must differ from the source currency"}
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	return nil
}

// Convert fetches the rate, records the conversion and returns the
// converted amount rounded to 2 decimal places
func (s *ConverterService) Convert(ctx context.Context, req model.ConvertRequest) (*model.Conversion, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "service.Convert")
	defer span.End()

	if err := validateConversion(&req); err != nil {
		s.recordConversion(req.From, req.To, "invalid", start)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("conversion.from", req.From),
		attribute.String("conversion.to", req.To),
	)

	rate, err := s.fetchRate(ctx, req.From, req.To)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate lookup failed")
		s.recordConversion(req.From, req.To, "error", start)
		return nil, fmt.Errorf("failed to get rate for %s/%s: %w", req.From, req.To, err)
	}

	record := &model.ConversionRecord{
		Currencies: model.PairKey(req.From, req.To),
		Rate:       rate.Value,
		Amount:     req.Amount,
	}
	if err := s.store.AddRecord(ctx, record); err != nil {
		s.logger.Error("Failed to record conversion",
			zap.String("currencies", record.Currencies),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		s.recordConversion(req.From, req.To, "error", start)
		return nil, fmt.Errorf("failed to record conversion: %w", err)
	}

	conversion := &model.Conversion{
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Rate:      rate.Value,
		Converted: decimal.NewFromFloat(req.Amount).Mul(decimal.NewFromFloat(rate.Value)).Round(2),
		Source:    rate.Source,
		Timestamp: record.Time(),
	}

	if err := s.publisher.PublishConversion(ctx, conversion); err != nil {
		s.logger.Warn("Failed to publish conversion event", zap.Error(err))
		// Don't fail the request, just log
		s.recordEvent(false)
	} else {
		s.recordEvent(true)
	}

	s.logger.Info("Converted",
		zap.String("currencies", record.Currencies),
		zap.Float64("amount", req.Amount),
		zap.Float64("rate", rate.Value),
		zap.String("converted", conversion.Converted.StringFixed(2)),
	)
	s.recordConversion(req.From, req.To, "success", start)

	return conversion, nil
}

// fetchRate calls the provider and keeps the online state current
func (s *ConverterService) fetchRate(ctx context.Context, from, to string) (*provider.Rate, error) {
	start := time.Now()
	rate, err := s.provider.GetRate(ctx, from, to)
	s.observeProvider(start, err)
	if err != nil {
		s.logger.Error("Failed to fetch rate from provider",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err),
		)
		return nil, err
	}
	return rate, nil
}

func (s *ConverterService) observeProvider(start time.Time, err error) {
	var netErr *provider.NetworkError
	switch {
	case err == nil:
		s.state.SetOnline(true, nil)
	case errors.As(err, &netErr) && netErr.StatusCode == 0:
		s.state.SetOnline(false, err)
	}

	if s.metrics == nil {
		return
	}
	name := s.provider.Name()
	status := "success"
	if err != nil {
		status = "error"
		s.metrics.RecordProviderError(name, errorType(err))
	}
	s.metrics.RecordProviderRequest(name, status, time.Since(start).Seconds())
}

func errorType(err error) string {
	var netErr *provider.NetworkError
	var unsupported provider.ErrUnsupportedPair
	switch {
	case errors.As(err, &netErr):
		if netErr.StatusCode != 0 {
			return "status"
		}
		return "network"
	case errors.As(err, &unsupported):
		return "unsupported_pair"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

func (s *ConverterService) recordConversion(from, to, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordConversion(from, to, status, time.Since(start).Seconds())
	}
}

func (s *ConverterService) recordEvent(ok bool) {
	if s.metrics != nil {
		s.metrics.RecordEventPublished(ok)
	}
}

// RecentConversions trims the history to its limit and returns it, newest first
func (s *ConverterService) RecentConversions(ctx context.Context) ([]model.ConversionRecord, error) {
	trimmed := true
	if _, err := s.retention.Enforce(ctx); err != nil {
		s.logger.Warn("Failed to trim recent conversions", zap.Error(err))
		trimmed = false
	}

	records, err := s.store.ListRecords(ctx, repository.OrderTimestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent conversions: %w", err)
	}

	if keep := s.retention.KeepCount(); !trimmed && len(records) > keep {
		records = records[:keep]
	}
	return records, nil
}

// DeleteRecent removes one pair from the history
func (s *ConverterService) DeleteRecent(ctx context.Context, pair string) error {
	from, to := model.SplitPair(strings.ToUpper(pair))
	if !isCurrencyCode(from) || !isCurrencyCode(to) {
		return &ValidationError{Field: "pair", Message: "expected FROM_TO"}
	}
	if err := s.store.DeleteRecord(ctx, model.PairKey(from, to)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", pair, err)
	}
	return nil
}

// Countries loads the country list sorted by name and records the outcome
// in the application state
func (s *ConverterService) Countries(ctx context.Context) ([]model.Country, error) {
	start := time.Now()
	countries, err := s.provider.GetCountries(ctx)
	s.observeProvider(start, err)
	if err != nil {
		s.state.CountriesFailed(err)
		s.logger.Error("Failed to load countries", zap.Error(err))
		return nil, fmt.Errorf("failed to load countries: %w", err)
	}

	provider.SortCountriesByName(countries)
	if s.config.FlagPathPrefix != "" {
		for i := range countries {
			countries[i].FlagURL = s.config.FlagPathPrefix + strings.ToLower(countries[i].ID)
		}
	}

	s.state.CountriesLoaded(len(countries))
	return countries, nil
}

// Currencies loads the currency list
func (s *ConverterService) Currencies(ctx context.Context) ([]model.Currency, error) {
	start := time.Now()
	currencies, err := s.provider.GetCurrencies(ctx)
	s.observeProvider(start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load currencies: %w", err)
	}
	return currencies, nil
}

// Flag fetches the flag icon of an alpha-2 country code. The assets client
// goes through the resource cache, so repeated flags are served offline.
func (s *ConverterService) Flag(ctx context.Context, code string) (*Asset, error) {
	if len(code) != 2 || !isLetters(code) {
		return nil, &ValidationError{Field: "code", Message: "expected an alpha-2 country code"}
	}

	rawURL := provider.FlagURL(s.config.FlagURLTemplate, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build flag request: %w", err)
	}

	resp, err := s.assets.Do(req)
	if err != nil {
		return nil, &provider.NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &provider.NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFlagBytes+1))
	if err != nil {
		return nil, &provider.NetworkError{URL: rawURL, Err: err}
	}
	if len(body) > maxFlagBytes {
		return nil, fmt.Errorf("flag %s exceeds %d bytes", code, maxFlagBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return &Asset{ContentType: contentType, Body: body}, nil
}

// isCurrencyCode reports whether s is an upper-case ISO 4217 style code
func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func isLetters(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// Health checks if the service and its dependencies are healthy
func (s *ConverterService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}
