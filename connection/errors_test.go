package connection

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceError(t *testing.T) {
	cause := errors.New("EOF")
	err := NewConnectionError(cause, "connection to %s closed", "sea-ios-1")

	assert.Equal(t, "[CONNECTION] connection to sea-ios-1 closed: EOF", err.Error())
	assert.Equal(t, "connection to sea-ios-1 closed", err.UserMessage())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("open: %w", err)
	assert.True(t, IsErrorCode(wrapped, ErrCodeConnection))
	assert.False(t, IsErrorCode(wrapped, ErrCodeTimeout))
	assert.Equal(t, "connection to sea-ios-1 closed", Message(wrapped))
	assert.True(t, IsFatal(wrapped))
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *DeviceError
		code  ErrorCode
		fatal bool
	}{
		{"timeout", NewTimeoutError(nil, "timed out"), ErrCodeTimeout, false},
		{"argument", NewArgumentError("send_commands expects a list of strings, got %T", "x"), ErrCodeArgument, false},
		{"capability", NewPlatformCapabilityError("No config mode for '%s' platform type", "generic"), ErrCodePlatformCapability, false},
		{"privilege", NewPrivilegeError(nil, "failed to acquire configuration"), ErrCodePrivilege, false},
		{"closed", NewSessionClosedError("sea-ios-1"), ErrCodeSessionClosed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.err.IsCode(tt.code))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}

	assert.Equal(t, "send_commands expects a list of strings, got string",
		NewArgumentError("send_commands expects a list of strings, got %T", "x").UserMessage())
	assert.Equal(t, "No config mode for 'generic' platform type",
		Message(NewPlatformCapabilityError("No config mode for '%s' platform type", "generic")))
}

func TestMessage_PlainError(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "boom", Message(errors.New("boom")))
	assert.Nil(t, GetDeviceError(errors.New("boom")))
}
