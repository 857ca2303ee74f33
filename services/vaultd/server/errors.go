package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"synthvault/native/vault"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrEnforcedPause):
		return http.StatusLocked
	case errors.Is(err, vault.ErrPriceStale):
		return http.StatusPreconditionRequired
	case errors.Is(err, vault.ErrUnknownCollateral):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrCooldownNotMet),
		errors.Is(err, vault.ErrExceedsMaxMintsPerDay),
		errors.Is(err, vault.ErrExceedsDailyLimit),
		errors.Is(err, vault.ErrExceedsGlobalLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidConfig) && !errors.Is(err, vault.ErrCollateralExists):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrCollateralNotEnabled),
		errors.Is(err, vault.ErrVaultUndercollateral),
		errors.Is(err, vault.ErrBelowMinimumRatio),
		errors.Is(err, vault.ErrNotLiquidatable),
		errors.Is(err, vault.ErrInsufficientColl),
		errors.Is(err, vault.ErrAutoMintDisabled),
		errors.Is(err, vault.ErrRewardIneligible),
		errors.Is(err, vault.ErrCollateralExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := vault.ErrorKind(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		kind, msg = "internal", "internal error"
	}
	writeJSONError(w, status, kind, msg)
}

func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
