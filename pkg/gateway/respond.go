package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
	"github.com/cuber-it/heinzel-gateway/pkg/canon"
	"github.com/cuber-it/heinzel-gateway/pkg/internal/retry"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body: " + err.Error()})
		return false
	}
	return true
}

// toAppError converts the retry engine's internal error types into the
// gateway's apperr taxonomy. cfg supplies the Retry-After value for a
// rate-limit exhaustion, since retry.RateLimitHit itself only carries the
// attempt count.
func toAppError(err error, cfg retry.Config) error {
	if err == nil {
		return nil
	}
	if rl, ok := err.(*retry.RateLimitHit); ok {
		return &apperr.RateLimitExhausted{Attempts: rl.Attempts, MaxDelay: cfg.MaxDelay}
	}
	if re, ok := err.(*retry.RetryExhausted); ok {
		return &apperr.RetryExhausted{Attempts: re.Attempts, LastStatus: re.LastStatus, LastErr: re.LastErr}
	}
	return err
}

// writeError maps the gateway's typed error taxonomy to an HTTP response,
// matching SPEC_FULL.md §4.6's resolution of Open Question 3: a rate limit
// that survives every retry attempt becomes 429 with Retry-After, not a
// generic 500.
func writeError(w http.ResponseWriter, provider, endpoint string, err error) {
	switch e := err.(type) {
	case *apperr.EndpointNotAvailable:
		writeJSON(w, http.StatusNotImplemented, canon.NotImplementedResponse{
			Error:    "not_yet_implemented",
			Endpoint: endpoint,
			Provider: provider,
			Message:  e.Message,
		})
	case *apperr.RateLimitExhausted:
		w.Header().Set("Retry-After", strconv.Itoa(int(e.MaxDelay.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": e.Error()})
	case *apperr.RetryExhausted:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": e.Error()})
	case *apperr.UpstreamError:
		// Upstream and translation errors are both surfaced as 500 with the
		// message preserved; only 501 and the 429 rate-limit mapping differ.
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": e.Error()})
	case *apperr.TranslationError:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": e.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
