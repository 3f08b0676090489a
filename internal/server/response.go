package server

import (
	"encoding/json"
	"net/http"

	"github.com/michaelbrown/runbox/internal/sandbox"
)

// Envelope codes.
const (
	CodeOK    = 0
	CodeError = 1
)

// Response is the envelope every API call answers with.
type Response struct {
	Code    int                  `json:"code"`
	Message string               `json:"message"`
	Data    any                  `json:"data,omitempty"`
	Details []sandbox.FieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Code: CodeOK, Message: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Code: CodeError, Message: msg})
}

// statusFor maps an error kind to its HTTP status and fixed message. An empty
// message means the error's own text is reported.
func statusFor(kind sandbox.ErrorKind) (int, string) {
	switch kind {
	case sandbox.KindValidation:
		return http.StatusBadRequest, "Invalid request data"
	case sandbox.KindUnsupportedLanguage:
		return http.StatusBadRequest, "Unsupported language"
	case sandbox.KindTimeout:
		return http.StatusInternalServerError, "Code execution timeout"
	default:
		return http.StatusInternalServerError, ""
	}
}

// writeFailure converts any sandbox or pipeline error into the envelope.
func writeFailure(w http.ResponseWriter, err error) {
	kind := sandbox.KindOf(err)
	status, msg := statusFor(kind)
	if msg == "" {
		msg = err.Error()
	}

	resp := Response{Code: CodeError, Message: msg}
	if kind == sandbox.KindValidation {
		resp.Details = sandbox.DetailsOf(err)
	}
	writeJSON(w, status, resp)
}
