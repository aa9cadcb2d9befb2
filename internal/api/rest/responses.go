package rest

import (
	"encoding/json"
	"net/http"

	stderrors "errors"

	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/errors"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// writeError maps the error taxonomy onto HTTP. Unknown errors become 500
// without leaking internals.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var body errorBody
	status := http.StatusInternalServerError
	body.Error.Code = "INTERNAL_ERROR"
	body.Error.Message = "internal error"

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		status = appErr.StatusCode
		body.Error.Code = appErr.Code
		body.Error.Message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

// listResponse is the envelope of every collection endpoint. An empty
// result set is a 200 with an empty items array, never an error.
type listResponse struct {
	Items interface{} `json:"items"`
	Count int         `json:"count"`
}

func writeList(w http.ResponseWriter, items interface{}, count int) {
	if items == nil {
		items = []struct{}{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: count})
}
