package httpx

import (
	"errors"
	"net/http"

	"github.com/atlaslending/provisioning/internal/shared"
)

// RespondError maps provisioning domain errors to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidInputs),
		errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Request", err.Error())
	case errors.Is(err, shared.ErrDuplicatePosting),
		errors.Is(err, shared.ErrAlreadyReversed),
		errors.Is(err, shared.ErrAssessmentConsumed),
		errors.Is(err, shared.ErrCaseHasPostings),
		errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrConcurrentModification):
		// Surfaced only after the bounded retry budget is exhausted.
		Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
