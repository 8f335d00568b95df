package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestSpecificErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{ErrLayerNotFound, ErrNotFound},
		{ErrTileNotFound, ErrNotFound},
		{ErrAttributeNotFound, ErrNotFound},
		{ErrUnsupportedBackend, ErrUnsupported},
		{ErrInvalidLocation, ErrInvalidInput},
		{ErrBackendUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%v should unwrap to %v", tt.err, tt.sentinel)
		}
	}
}

func TestLocationError(t *testing.T) {
	err := &LocationError{Location: "s3://", Field: "bucket", Message: "missing bucket"}

	if !errors.Is(err, ErrInvalidLocation) {
		t.Error("LocationError should unwrap to ErrInvalidLocation")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("LocationError should unwrap to ErrInvalidInput")
	}

	var le *LocationError
	if !errors.As(err, &le) || le.Field != "bucket" {
		t.Errorf("errors.As lost the field: %+v", le)
	}
}

func TestBackendErrorUnwrapsItsCause(t *testing.T) {
	cause := fmt.Errorf("dial failed: %w", ErrUnavailable)
	err := &BackendError{Backend: "cassandra", Operation: "connect", Err: cause}

	if !errors.Is(err, ErrUnavailable) {
		t.Error("BackendError should surface its cause's sentinel")
	}
}

func TestFilterErrorUnwrapsToInvalidInput(t *testing.T) {
	err := &FilterError{Value: "linestring"}

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("FilterError should unwrap to ErrInvalidInput")
	}
}

func TestQueryErrorWrapsUnsupported(t *testing.T) {
	err := &QueryError{Layer: "elevation", Zoom: 5, Err: ErrUnsupported}

	if !errors.Is(err, ErrUnsupported) {
		t.Error("QueryError should unwrap to its cause")
	}

	var qe *QueryError
	if !errors.As(err, &qe) || qe.Layer != "elevation" || qe.Zoom != 5 {
		t.Errorf("errors.As lost the layer identity: %+v", qe)
	}
}
