package checkpoint

import (
	"errors"
	"io"
	"strings"
	"testing"
)

var (
	errBase   = errors.New("base error")
	errReason = errors.New("reason")
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
		wantIs  []error
	}{
		{
			name:    "nil stays nil",
			err:     nil,
			wantNil: true,
		},
		{
			name:   "io.EOF is passed through",
			err:    io.EOF,
			wantIs: []error{io.EOF},
		},
		{
			name:   "wrapped error is still found",
			err:    errBase,
			wantIs: []error{errBase},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			if (got == nil) != tt.wantNil {
				t.Fatalf("From() = %v, wantNil %v", got, tt.wantNil)
			}
			for _, want := range tt.wantIs {
				if !errors.Is(got, want) {
					t.Errorf("From() = %v, want errors.Is %v", got, want)
				}
			}
		})
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name    string
		prev    error
		err     error
		wantNil bool
		wantIs  []error
	}{
		{
			name:    "nil prev results in nil",
			prev:    nil,
			err:     errReason,
			wantNil: true,
		},
		{
			name:   "both errors can be found",
			prev:   errBase,
			err:    errReason,
			wantIs: []error{errBase, errReason},
		},
		{
			name:   "nested checkpoints",
			prev:   From(errBase),
			err:    errReason,
			wantIs: []error{errBase, errReason},
		},
		{
			name:   "nil reason",
			prev:   errBase,
			err:    nil,
			wantIs: []error{errBase},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.prev, tt.err)
			if (got == nil) != tt.wantNil {
				t.Fatalf("Wrap() = %v, wantNil %v", got, tt.wantNil)
			}
			for _, want := range tt.wantIs {
				if !errors.Is(got, want) {
					t.Errorf("Wrap() = %v, want errors.Is %v", got, want)
				}
			}
		})
	}
}

func TestCheckpoint_Error(t *testing.T) {
	err := Wrap(From(errBase), errReason)
	msg := err.Error()

	if !strings.Contains(msg, "checkpoint_test.go") {
		t.Errorf("Error() = %q, want the caller file", msg)
	}
	if !strings.Contains(msg, errBase.Error()) || !strings.Contains(msg, errReason.Error()) {
		t.Errorf("Error() = %q, want both messages", msg)
	}
}
