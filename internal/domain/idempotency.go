package domain

import "time"

// IdempotencyRecord stores the response produced for a (key, endpoint) pair
// so retried requests can be answered without repeating the effect.
type IdempotencyRecord struct {
	Key          string
	Endpoint     string
	RequestHash  string
	ResponseBody []byte
	StatusCode   int
	CreatedAt    time.Time
}
