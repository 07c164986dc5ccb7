package youtubeapi

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/onnwee/openmic/reconcile"
)

// classify maps a YouTube API failure onto the registry error classes.
// Rate limits, quota, server errors and auth expiry are transient; any other
// 4xx rejects the item. Errors without an API status (network failures,
// timeouts, token endpoint trouble) are transient.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return reconcile.Transient(op, id, err)
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests,
		gerr.Code >= 500,
		gerr.Code == http.StatusUnauthorized:
		return reconcile.Transient(op, id, err)
	case gerr.Code == http.StatusForbidden && rateLimited(gerr):
		return reconcile.Transient(op, id, err)
	case gerr.Code >= 400:
		return reconcile.Permanent(op, id, err)
	}
	return reconcile.Transient(op, id, err)
}

func rateLimited(e *googleapi.Error) bool {
	for _, item := range e.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}
