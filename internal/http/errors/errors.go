package errors

import (
	stderrors "errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/jw6ventures/timetable/internal/timetable"
)

// Body is the JSON error document returned by the API.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] encode response: %v", err)
	}
}

// Write sends an error body with a machine-readable code.
func Write(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Body{Error: code, Message: message})
}

// Timetable maps engine failures to their status and code. Anything
// untyped is an internal error.
func Timetable(w http.ResponseWriter, r *http.Request, err error) {
	var typed *timetable.Error
	if !stderrors.As(err, &typed) {
		InternalError(w, r, err, "timetable request failed")
		return
	}
	if typed.Status >= http.StatusInternalServerError {
		LogError(r, typed.Code, err)
	} else {
		LogWarn(r, typed.Code, err)
	}
	Write(w, typed.Status, typed.Code, typed.Message())
}

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	Write(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	LogWarn(r, "bad request", err)
	Write(w, http.StatusBadRequest, "BAD_REQUEST", clientMessage)
}

func LogError(r *http.Request, message string, err error) {
	logf(r, "[ERROR]", message, err)
}

func LogWarn(r *http.Request, message string, err error) {
	logf(r, "[WARN]", message, err)
}

func LogInfo(r *http.Request, message string) {
	requestID := middleware.GetReqID(r.Context())

	if requestID != "" {
		log.Printf("[INFO] RequestID=%s: %s", requestID, message)
	} else {
		log.Printf("[INFO] %s", message)
	}
}

func logf(r *http.Request, level, message string, err error) {
	requestID := middleware.GetReqID(r.Context())

	if requestID != "" {
		log.Printf("%s RequestID=%s: %s: %v", level, requestID, message, err)
	} else {
		log.Printf("%s %s: %v", level, message, err)
	}
}
