package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", NewValidationError("bad", cause), ErrorTypeValidation, http.StatusBadRequest},
		{"network", NewNetworkError("bad", cause), ErrorTypeNetwork, http.StatusBadGateway},
		{"processing", NewProcessingError("bad", cause), ErrorTypeProcessing, http.StatusUnprocessableEntity},
		{"timeout", NewTimeoutError("bad", cause), ErrorTypeTimeout, http.StatusGatewayTimeout},
		{"not found", NewNotFoundError("bad", nil), ErrorTypeNotFound, http.StatusNotFound},
		{"conflict", NewConflictError("bad", nil), ErrorTypeConflict, http.StatusConflict},
		{"internal", NewInternalError("bad", nil), ErrorTypeInternal, http.StatusInternalServerError},
		{"stage", NewStageError("grid", ErrorTypeGrid, "gap", nil), ErrorTypeGrid, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, tt.err.Type)
			}
			if GetStatusCode(tt.err) != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, GetStatusCode(tt.err))
			}
			if !IsType(tt.err, tt.wantType) {
				t.Errorf("IsType(%s) returned false", tt.wantType)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewStageError("preprocess", ErrorTypeDecode, "cannot decode image", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	want := "preprocess/decode: cannot decode image (caused by: root cause)"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestAs_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewNotFoundError("job missing", nil))

	appErr, ok := As(wrapped)
	if !ok {
		t.Fatal("Expected to extract AppError from wrapped error")
	}
	if appErr.Type != ErrorTypeNotFound {
		t.Errorf("Expected not_found, got %s", appErr.Type)
	}
	if GetStatusCode(errors.New("plain")) != http.StatusInternalServerError {
		t.Error("Expected plain errors to map to 500")
	}
}
