package collector

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidURL  = errors.New("collector: invalid base URL")
	ErrUnknownType = errors.New("collector: no endpoint for task type")
	ErrTransport   = errors.New("collector: transport failure")
	ErrServer      = errors.New("collector: server rejected request")
	ErrCircuitOpen = errors.New("collector: circuit breaker is open")
	ErrNoToken     = errors.New("collector: auth response carried no sdk token")
)

// DeliveryError is a non-2xx response from the collector.
type DeliveryError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("collector: %s returned status %d", e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return ErrServer
}

// IsPermanent reports whether err is a server rejection that will not succeed
// on retry. Most 4xx responses are permanent; 401 is not, since the token is
// re-acquired on the next attempt.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return false
	}
	if de.StatusCode < 400 || de.StatusCode >= 500 {
		return false
	}
	switch de.StatusCode {
	case http.StatusUnauthorized,
		http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}

// StatusCode extracts the response status from err, or 0.
func StatusCode(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}
	return 0
}
