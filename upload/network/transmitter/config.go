package transmitter

import (
	"net/http"
	"time"
)

const (
	// DefaultAttemptTimeout bounds a single chunk PUT on a healthy network.
	DefaultAttemptTimeout = 5 * time.Minute

	// UnreliableAttemptTimeout is the ceiling used in degraded-network mode,
	// where a chunk may crawl for a long time without being hung.
	UnreliableAttemptTimeout = time.Hour
)

// Config holds configuration for the chunk transmitter.
type Config struct {
	// MaxAttempts is the total number of tries per chunk, including the
	// first one. Default: 5
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each further retry
	// doubles it. Default: 1 second
	BackoffBase time.Duration

	// AttemptTimeout bounds a single transfer attempt.
	// Default: DefaultAttemptTimeout
	AttemptTimeout time.Duration

	// HTTPClient is the client used for chunk PUTs. If nil, a default tuned
	// client is created.
	HTTPClient *http.Client
}

// DefaultConfig returns the default transmitter configuration.
// unreliableNetwork selects the longer per-attempt timeout ceiling.
func DefaultConfig(unreliableNetwork bool) Config {
	attemptTimeout := DefaultAttemptTimeout
	if unreliableNetwork {
		attemptTimeout = UnreliableAttemptTimeout
	}

	return Config{
		MaxAttempts:    5,
		BackoffBase:    time.Second,
		AttemptTimeout: attemptTimeout,
	}
}

// DefaultHTTPClient creates an HTTP client tuned for chunk uploads. There is
// no client-level timeout: attempts are bounded via context.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxConnsPerHost:     4,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
