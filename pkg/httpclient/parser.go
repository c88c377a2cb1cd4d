package httpclient

import (
	"net/url"
)

var sensitiveParams = []string{"token", "access_token", "password"}

// redact hides credentials carried in query parameters before a URL is logged.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	changed := false
	for _, key := range sensitiveParams {
		if q.Has(key) {
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return u.String()
	}
	clone := *u
	clone.RawQuery = q.Encode()
	return clone.String()
}

// IsSuccessStatus returns true if the status code indicates success
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// IsRetryableStatus returns true if the status code indicates a retryable error
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsUnauthorizedStatus returns true if the remote rejected the credentials
func IsUnauthorizedStatus(statusCode int) bool {
	return statusCode == 401
}
