package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Motor.New", ErrInvalidArgument, "port 7 outside 1-6")
	want := "Motor.New: port 7 outside 1-6: invalid argument"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Servo.SetAngle", ErrClosed, "")
	want := "Servo.SetAngle: handle closed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("DigitalPin.Write", ErrUnsupportedOperation, "pin 5 is read-only")
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Error("errors.Is should match ErrUnsupportedOperation")
	}
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "DigitalPin.Write", de.Op)
	assert.Equal(t, CodeUnsupportedOperation, de.Code())
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("noop", nil))

	err := WrapOp("Memory.CreateDevice", ErrResourceUnavailable)
	assert.True(t, errors.Is(err, ErrResourceUnavailable))
	assert.Equal(t, "Memory.CreateDevice: resource unavailable", err.Error())
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"direct", ErrInvalidArgument, CodeInvalidArgument},
		{"domain error", NewDomainError("op", ErrClosed, ""), CodeClosed},
		{"wrapped", fmt.Errorf("outer: %w", ErrDuplicate), CodeDuplicate},
		{"gateway auth", ErrGatewayAuthFailed, CodeGatewayAuth},
		{"unknown", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf_MultipleSentinelsPrefersUnsupported(t *testing.T) {
	err := fmt.Errorf("write 7: %w: %w", ErrUnsupportedOperation, ErrInvalidArgument)
	assert.Equal(t, CodeUnsupportedOperation, ErrorCodeOf(err))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSentinelOfRoundTrip(t *testing.T) {
	for sentinel, code := range errorCodeMap {
		assert.Same(t, sentinel, SentinelOf(code), "code %s", code)
	}
	assert.Nil(t, SentinelOf("NOPE"))
}
