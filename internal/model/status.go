package model

import "time"

// AppStatus is the application state shown to the UI
type AppStatus struct {
	CountriesLoaded bool      `json:"countriesLoaded"`
	CountriesError  bool      `json:"countriesError"` // The last country load failed
	CountryCount    int       `json:"countryCount"`
	Online          bool      `json:"online"`
	LastError       string    `json:"lastError,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
