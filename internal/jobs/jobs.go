package jobs

import (
	"context"
	"fmt"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
)

// Enforcer trims the recent conversions store
type Enforcer interface {
	Enforce(ctx context.Context) (int, error)
}

// RetentionJob applies the recent conversions limit on a schedule, so the
// store stays bounded even when nobody reads the history
type RetentionJob struct {
	enforcer Enforcer
}

// NewRetentionJob creates a RetentionJob
func NewRetentionJob(enforcer Enforcer) *RetentionJob {
	return &RetentionJob{enforcer: enforcer}
}

// Name returns the job name
func (j *RetentionJob) Name() string {
	return "retention"
}

// Run trims the store once
func (j *RetentionJob) Run(ctx context.Context) error {
	if _, err := j.enforcer.Enforce(ctx); err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	return nil
}

// CountryLoader loads the country list
type CountryLoader interface {
	Countries(ctx context.Context) ([]model.Country, error)
}

// CountriesRefreshJob reloads the country list, which clears a countries
// error in the application state once the provider is reachable again
type CountriesRefreshJob struct {
	loader CountryLoader
}

// NewCountriesRefreshJob creates a CountriesRefreshJob
func NewCountriesRefreshJob(loader CountryLoader) *CountriesRefreshJob {
	return &CountriesRefreshJob{loader: loader}
}

// Name returns the job name
func (j *CountriesRefreshJob) Name() string {
	return "countries-refresh"
}

// Run loads the countries once
func (j *CountriesRefreshJob) Run(ctx context.Context) error {
	_, err := j.loader.Countries(ctx)
	return err
}
