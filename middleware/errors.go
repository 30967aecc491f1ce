package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/tierauth"
)

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch tierauth.ReasonOf(err) {
	case "":
		return http.StatusOK
	case tierauth.ReasonInvalidCredentials,
		tierauth.ReasonInvalidToken,
		tierauth.ReasonInvalid2FACode,
		tierauth.ReasonAPIKeyRevoked,
		tierauth.ReasonAPIKeyExpired:
		return http.StatusUnauthorized
	case tierauth.ReasonEmailNotVerified,
		tierauth.ReasonGuestAccessExpired,
		tierauth.ReasonNoActiveSubscription,
		tierauth.ReasonAlgorithmNotInPlan,
		tierauth.ReasonInsufficientRole,
		tierauth.ReasonLastOwner,
		tierauth.ReasonSelfManagement:
		return http.StatusForbidden
	case tierauth.ReasonNotFound, tierauth.ReasonUnknownAlgorithm:
		return http.StatusNotFound
	case tierauth.ReasonDuplicateResource:
		return http.StatusConflict
	case tierauth.ReasonInvalidInput,
		tierauth.ReasonPasswordPolicy,
		tierauth.ReasonTwoFactorState,
		tierauth.ReasonServiceUnavailable,
		tierauth.ReasonSubscriptionNotActive,
		tierauth.ReasonNotGuest:
		return http.StatusBadRequest
	case tierauth.ReasonRateLimited:
		return http.StatusTooManyRequests
	case tierauth.ReasonBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError answers with StatusFor(err) and {"error": reason}. The error
// text itself is never sent.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	reason := tierauth.ReasonOf(err)
	if reason == "" {
		reason = tierauth.ReasonInternal
	}

	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "60")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: string(reason)})
}
