package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestRoundTrip(t *testing.T) {
	msg, err := NewRequest(float64(1), "tools/call", map[string]any{"name": "echo.say"})
	require.NoError(t, err)
	assert.True(t, msg.IsRequest())
	assert.False(t, msg.IsResponse())
	assert.False(t, msg.IsNotification())

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NoError(t, decoded.Validate())
	assert.Equal(t, "tools/call", decoded.Method)
}

func TestNotificationHasNoID(t *testing.T) {
	msg, err := NewNotification("notifications/tools/list_changed", nil)
	require.NoError(t, err)
	assert.True(t, msg.IsNotification())
	assert.Nil(t, msg.ID)
}

func TestNewBackendUnavailableShape(t *testing.T) {
	msg := NewBackendUnavailable("req-1", "fs", "connection refused")
	require.NotNil(t, msg.Error)
	assert.Equal(t, CodeInternalError, msg.Error.Code)

	var data ErrorData
	require.NoError(t, json.Unmarshal(msg.Error.Data, &data))
	assert.Equal(t, "backend_unavailable", data.Kind)
	assert.Equal(t, "fs", data.BackendID)
}

func TestValidateRejectsMalformed(t *testing.T) {
	m := &Message{JSONRPC: Version}
	assert.Error(t, m.Validate())

	m2 := &Message{JSONRPC: "1.0", Method: "ping"}
	assert.Error(t, m2.Validate())
}
