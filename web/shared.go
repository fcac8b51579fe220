package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/internal/store"
)

const maxListLimit = 500

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps queue and store errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, client.ErrInvalidJobType),
		errors.Is(err, client.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// getLimit reads ?limit=, returning 0 (the queue default) when absent or invalid.
func getLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		return 0
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
