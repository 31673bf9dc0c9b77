package cache

import "net/http"

// Transport is an http.RoundTripper that answers requests through a Manager
type Transport struct {
	Manager *Manager
}

// NewTransport wraps the manager as a RoundTripper
func NewTransport(m *Manager) *Transport {
	return &Transport{Manager: m}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Manager.Handle(req)
}

// Client returns an http.Client whose requests go through the cache
func (t *Transport) Client(base *http.Client) *http.Client {
	c := &http.Client{Transport: t}
	if base != nil {
		c.Timeout = base.Timeout
		c.CheckRedirect = base.CheckRedirect
		c.Jar = base.Jar
	}
	return c
}
