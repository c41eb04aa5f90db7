package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(value); err != nil {
		logrus.Errorf("failed to encode json response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	WriteJSON(w, code, ErrResponse{Error: err.Error()})
}
