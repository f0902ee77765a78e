package apimodel

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Operation selectors appended to the API base.
const (
	PathRegister = "register"
	PathLogin    = "login"
	PathRefresh  = "refresh"
	PathProfile  = "profile"
	PathCourses  = "courses"
	PathNotes    = "notes"
	PathQuizzes  = "quizzes"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RequestOptions describe a single API call. They are persisted verbatim for
// queued mutations so a replay sends the same request.
type RequestOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// NormalizedMethod returns the upper-cased method, GET when unset.
func (o RequestOptions) NormalizedMethod() string {
	m := strings.ToUpper(strings.TrimSpace(o.Method))
	if m == "" {
		return http.MethodGet
	}
	return m
}

// IsMutating reports whether the request writes (POST, PUT or DELETE).
func (o RequestOptions) IsMutating() bool {
	return IsMutatingMethod(o.NormalizedMethod())
}

func IsMutatingMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// JSONBody marshals v into RequestOptions.Body.
func JSONBody(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
