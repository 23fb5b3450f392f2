package seedserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/store/redisstore"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func renderError(w http.ResponseWriter, status int, err error) {
	code := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	renderJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

// statusFor maps builder and store errors to a response status
func statusFor(err error) int {
	switch {
	case errors.Is(err, fabrique.ErrUnknownRecord):
		return http.StatusNotFound
	case errors.Is(err, fabrique.ErrUnknownField),
		errors.Is(err, fabrique.ErrUnknownRelation),
		errors.Is(err, fabrique.ErrInvalidValue):
		return http.StatusBadRequest
	case sqlstore.IsUniqueViolation(err), sqlstore.IsForeignKeyViolation(err),
		errors.Is(err, redisstore.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, sqlstore.ErrCheckViolation), errors.Is(err, sqlstore.ErrNotNullViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
