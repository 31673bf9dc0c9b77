package model

// Country is a country entry returned by the rate provider
type Country struct {
	ID             string `json:"id"` // ISO alpha-2 code
	Name           string `json:"name"`
	CurrencyID     string `json:"currencyId"`
	CurrencyName   string `json:"currencyName,omitempty"`
	CurrencySymbol string `json:"currencySymbol,omitempty"`
	FlagURL        string `json:"flagUrl,omitempty"`
}

// Currency is a currency entry returned by the rate provider
type Currency struct {
	ID             string `json:"id"`
	CurrencyName   string `json:"currencyName"`
	CurrencySymbol string `json:"currencySymbol,omitempty"`
}
