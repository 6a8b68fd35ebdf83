package api

import (
	"encoding/json"
	"testing"
)

func TestAPIErrorInterface(t *testing.T) {
	var _ error = &APIError{}
}

func TestAPIErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			"with param",
			&APIError{Type: ErrorTypeInvalidRequest, Param: "value", Message: "is required"},
			"invalid_request: is required (param: value)",
		},
		{
			"without param",
			&APIError{Type: ErrorTypeServerError, Message: "internal failure"},
			"server_error: internal failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("APIError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *APIError
		wantType  ErrorType
		wantParam string
	}{
		{"invalid request", NewInvalidRequestError("value", "is required"), ErrorTypeInvalidRequest, "model"},
		{"not found", NewNotFoundError("project not found"), ErrorTypeNotFound, ""},
		{"server error", NewServerError("internal failure"), ErrorTypeServerError, ""},
		{"unauthorized", NewUnauthorizedError("missing credentials"), ErrorTypeUnauthorized, ""},
		{"conflict", NewConflictError("project exists"), ErrorTypeConflict, ""},
		{"too many requests", NewTooManyRequestsError("rate limit exceeded"), ErrorTypeTooManyRequests, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if tt.err.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", tt.err.Param, tt.wantParam)
			}
		})
	}
}

func TestErrorResponseJSON(t *testing.T) {
	resp := ErrorResponse{Error: NewInvalidRequestError("value", "is required")}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got ErrorResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Error.Type != ErrorTypeInvalidRequest {
		t.Errorf("Error.Type = %q, want %q", got.Error.Type, ErrorTypeInvalidRequest)
	}
}

func TestAPIErrorOmitEmpty(t *testing.T) {
	err := &APIError{Type: ErrorTypeServerError, Message: "fail"}
	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("Marshal: %v", marshalErr)
	}

	var m map[string]interface{}
	if unmarshalErr := json.Unmarshal(data, &m); unmarshalErr != nil {
		t.Fatalf("Unmarshal: %v", unmarshalErr)
	}

	if _, ok := m["code"]; ok {
		t.Error("empty code should be omitted from JSON")
	}
	if _, ok := m["param"]; ok {
		t.Error("empty param should be omitted from JSON")
	}
}
