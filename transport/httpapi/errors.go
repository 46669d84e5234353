package httpapi

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-eventhooks/core"
)

const errorCodeBodyTooLarge = "EVENTHOOKS_BODY_TOO_LARGE"

var errBodyTooLarge = goerrors.New("request body is too large", goerrors.CategoryBadInput).
	WithCode(http.StatusRequestEntityTooLarge).
	WithTextCode(errorCodeBodyTooLarge)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse maps err through core.MapError. Internal failures keep
// their message out of the response.
func errorResponse(err error) (int, errorBody) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	message := mapped.Message
	if status >= http.StatusInternalServerError && mapped.Category == goerrors.CategoryInternal {
		message = "An unexpected error occurred"
	}
	return status, errorBody{Error: errorDetail{Code: mapped.TextCode, Message: message}}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
