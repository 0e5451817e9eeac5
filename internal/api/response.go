package api

import (
	"encoding/json"
	"net/http"
)

// Response is a standard API response wrapper.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(Response{Error: err})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	JSONError(w, ErrRouteNotFound)
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	JSONError(w, ErrMethodNotAllowed)
}
