package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"dubber/internal/domain"
)

// Class is the failure classification of an external call.
type Class string

const (
	ClassTimeout    Class = "timeout"
	ClassRateLimit  Class = "rate_limit"
	ClassConnection Class = "connection"
	ClassPermanent  Class = "permanent"
	ClassUnknown    Class = "unknown"
)

// Retryable reports whether another attempt may succeed.
func (c Class) Retryable() bool {
	return c != ClassPermanent
}

// Kind maps the class onto the status taxonomy.
func (c Class) Kind() domain.ErrorKind {
	switch c {
	case ClassRateLimit:
		return domain.KindRateLimited
	case ClassPermanent:
		return domain.KindPermanentRequest
	default:
		return domain.KindTransientNetwork
	}
}

// Suggestion returns a human-actionable hint for the class.
func (c Class) Suggestion() string {
	switch c {
	case ClassTimeout:
		return "provider timed out; raise the per-call timeout or retry later"
	case ClassRateLimit:
		return "check provider quota or billing, then retry the stage"
	case ClassConnection:
		return "service unreachable; verify the endpoint and network access"
	case ClassPermanent:
		return "request rejected; check credentials, model name and input"
	default:
		return "retry the stage; inspect the error if it keeps failing"
	}
}

const maxBodyInError = 300

// StatusError is returned by HTTP adapters for non-2xx responses.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := domain.Truncate(strings.TrimSpace(e.Body), maxBodyInError)
	if body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, body)
}

// NewStatusError reads at most 4KiB of the response body into a StatusError.
func NewStatusError(provider string, resp *http.Response) *StatusError {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))
	}
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

var quotaPhrases = []string{"quota", "rate limit", "rate_limit", "resource_exhausted", "too many requests"}

var connectionPhrases = []string{"connection refused", "connection reset", "no such host", "broken pipe", "unexpected eof"}

// Classify determines the failure class of err.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Class
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}
	var status *StatusError
	if errors.As(err, &status) {
		return classifyStatus(status.StatusCode, status.Body)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassConnection
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, quotaPhrases) {
		return ClassRateLimit
	}
	if containsAny(msg, connectionPhrases) {
		return ClassConnection
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return ClassTimeout
	}
	return ClassUnknown
}

func classifyStatus(code int, body string) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ClassTimeout
	case code >= 500:
		if containsAny(strings.ToLower(body), quotaPhrases) {
			return ClassRateLimit
		}
		return ClassConnection
	case code >= 400:
		if code == http.StatusForbidden && containsAny(strings.ToLower(body), quotaPhrases) {
			return ClassRateLimit
		}
		return ClassPermanent
	default:
		return ClassUnknown
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
