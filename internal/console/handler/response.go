package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/netops-governor/internal/batch"
	"github.com/xela07ax/netops-governor/internal/console/service"
	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/policy"
	"github.com/xela07ax/netops-governor/internal/store"
)

// maxBodyBytes ограничивает тела запросов, включая YAML политики.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func statusFor(err error) int {
	var cycle *batch.CircularDependencyError
	var dup *batch.DuplicateDeviceError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyProcessed),
		errors.Is(err, domain.ErrNotApproved),
		errors.Is(err, service.ErrExecutionClaimed),
		errors.Is(err, store.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, batch.ErrProofRequired), errors.Is(err, batch.ErrScopeExceeded):
		return http.StatusForbidden
	case policy.IsInvalid(err),
		errors.As(err, &cycle),
		errors.As(err, &dup),
		errors.Is(err, batch.ErrToolMismatch),
		errors.Is(err, batch.ErrParametersMismatch),
		errors.Is(err, domain.ErrInvalidEAS),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, service.ErrUnknownStatus),
		errors.Is(err, service.ErrInvalidOverride):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
