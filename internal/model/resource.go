package model

import "time"

// CachedResource is a stored network response belonging to one cache generation
type CachedResource struct {
	RequestKey string          `json:"requestKey"`
	Generation string          `json:"generation"`
	Payload    ResourcePayload `json:"payload"`
	StoredAt   time.Time       `json:"storedAt"`
}

// ResourcePayload holds everything needed to replay a response without the network
type ResourcePayload struct {
	URL        string              `msgpack:"url"`
	StatusCode int                 `msgpack:"status_code"`
	Status     string              `msgpack:"status"`
	Header     map[string][]string `msgpack:"header"`
	Body       []byte              `msgpack:"body"`
}

// CacheStatus describes the resource cache as seen by one manager
type CacheStatus struct {
	State       string   `json:"state"`
	Active      string   `json:"active,omitempty"`
	Pending     string   `json:"pending,omitempty"`
	Generations []string `json:"generations"`
}
