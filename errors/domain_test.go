package errors

import (
	"errors"
	"testing"
)

func TestDomainError_Retriable(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		want     bool
	}{
		{"transient-io", CategoryTransientIO, true},
		{"configuration", CategoryConfiguration, false},
		{"insufficient-storage", CategoryInsufficientStorage, false},
		{"protocol", CategoryProtocol, false},
		{"request-validation", CategoryRequestValidation, false},
		{"fatal", CategoryFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newDomainError(tt.category, "op", errors.New("boom"))
			if err.Retriable() != tt.want {
				t.Errorf("Retriable() = %v, want %v", err.Retriable(), tt.want)
			}
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewInsufficientStorageError("aehandler.write", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	if err.Category != CategoryInsufficientStorage {
		t.Errorf("Category = %v, want %v", err.Category, CategoryInsufficientStorage)
	}
}

func TestDomainError_Error(t *testing.T) {
	err := NewFatalError("scp.bind", errors.New("address already in use"))

	msg := err.Error()
	if msg == "" {
		t.Error("Error message should not be empty")
	}
}

func TestCategory_String(t *testing.T) {
	if CategoryFatal.String() != "fatal" {
		t.Errorf("String() = %s, want fatal", CategoryFatal.String())
	}

	if Category(99).String() != "unknown" {
		t.Errorf("String() = %s, want unknown", Category(99).String())
	}
}
