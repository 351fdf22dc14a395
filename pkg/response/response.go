package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope of every API reply. Hint tells a UI what the user
// can do about a failure.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Hint    string      `json:"hint,omitempty"`
}

func write(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{
		Success: statusCode < 400,
		Data:    data,
	})
}

func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// SuccessWithHint is Success plus a suggestion for a reply that is valid but
// not useful yet, such as an empty catalog.
func SuccessWithHint(w http.ResponseWriter, data interface{}, hint string) {
	write(w, http.StatusOK, Response{Success: true, Data: data, Hint: hint})
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

func Error(w http.ResponseWriter, statusCode int, err string) {
	write(w, statusCode, Response{Error: err})
}

// ErrorWithHint is Error plus a user-facing suggestion, e.g. "Please try again."
func ErrorWithHint(w http.ResponseWriter, statusCode int, err, hint string) {
	write(w, statusCode, Response{Error: err, Hint: hint})
}

func BadRequest(w http.ResponseWriter, err string) {
	Error(w, http.StatusBadRequest, err)
}

func NotFound(w http.ResponseWriter, err string) {
	Error(w, http.StatusNotFound, err)
}

func UnprocessableEntity(w http.ResponseWriter, err, hint string) {
	ErrorWithHint(w, http.StatusUnprocessableEntity, err, hint)
}

func InternalError(w http.ResponseWriter, err string) {
	Error(w, http.StatusInternalServerError, err)
}
