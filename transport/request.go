package transport

import (
	"context"
	"time"
)

// Request is a single outbound HTTP call. Body is sent as-is so signatures
// computed over it stay valid.
type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Adapter interface {
	Do(ctx context.Context, req Request) (Response, error)
}
