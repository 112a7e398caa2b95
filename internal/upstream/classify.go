package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
)

// ErrQuota marks an error as quota or rate-limit exhaustion.
var ErrQuota = errors.New("upstream quota exhausted")

// StatusError carries the HTTP code and canonical status string
// (e.g. "RESOURCE_EXHAUSTED") reported by a Google API.
type StatusError struct {
	Code   int
	Status string
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d %s: %v", e.Code, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Class is how a failure should be handled.
type Class int

const (
	// ClassTransient failures are retried with backoff.
	ClassTransient Class = iota
	// ClassQuota failures trip the breaker and are not retried.
	ClassQuota
	// ClassPermanent failures are neither retried nor tripped on.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassQuota:
		return "quota"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Classify decides from status codes, never from message text, whether a
// failure is quota exhaustion, transient, or permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, ErrQuota) {
		return ClassQuota
	}

	var se *StatusError
	if errors.As(err, &se) {
		if c, ok := canonicalCode(se.Status); ok {
			switch c {
			case codes.ResourceExhausted:
				return ClassQuota
			case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted, codes.Unknown:
				return ClassTransient
			case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied,
				codes.Unauthenticated, codes.NotFound, codes.Unimplemented, codes.OutOfRange:
				return ClassPermanent
			}
		}
		switch {
		case se.Code == http.StatusTooManyRequests:
			return ClassQuota
		case se.Code == http.StatusRequestTimeout || se.Code >= 500:
			return ClassTransient
		case se.Code >= 400:
			return ClassPermanent
		}
	}

	// Timeouts, dropped connections and anything unrecognised are transient.
	return ClassTransient
}

// canonicalCode maps "RESOURCE_EXHAUSTED" style strings to grpc codes.
func canonicalCode(status string) (codes.Code, bool) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		return codes.OK, false
	}
	var c codes.Code
	if err := c.UnmarshalJSON([]byte(strconv.Quote(status))); err != nil {
		return codes.OK, false
	}
	return c, true
}
