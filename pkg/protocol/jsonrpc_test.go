package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantMethod string
		wantID     interface{}
		wantNotif  bool
		wantValid  bool
	}{
		{
			name:       "numeric id",
			input:      `{"jsonrpc":"2.0","id":7,"method":"ping"}`,
			wantMethod: "ping",
			wantID:     json.Number("7"),
			wantValid:  true,
		},
		{
			name:       "string id",
			input:      `{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`,
			wantMethod: "tools/list",
			wantID:     "abc",
			wantValid:  true,
		},
		{
			name:       "notification",
			input:      `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			wantMethod: "notifications/initialized",
			wantNotif:  true,
			wantValid:  true,
		},
		{
			name:       "wrong version",
			input:      `{"jsonrpc":"1.0","id":1,"method":"ping"}`,
			wantMethod: "ping",
			wantID:     json.Number("1"),
		},
		{
			name:   "missing method",
			input:  `{"jsonrpc":"2.0","id":1}`,
			wantID: json.Number("1"),
		},
		{
			name:       "object id",
			input:      `{"jsonrpc":"2.0","id":{"a":1},"method":"ping"}`,
			wantMethod: "ping",
			wantID:     map[string]interface{}{"a": json.Number("1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantID, req.ID)
			assert.Equal(t, tt.wantNotif, req.IsNotification())
			if tt.wantValid {
				assert.NoError(t, req.Valid())
			} else {
				assert.Error(t, req.Valid())
			}
		})
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"jsonrpc":"2.0",`))
	assert.Error(t, err)
}

func TestDecodeRequestTrailingData(t *testing.T) {
	for _, raw := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"} trailing`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}{}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"} 1`,
	} {
		_, err := DecodeRequest([]byte(raw))
		assert.ErrorIs(t, err, ErrTrailingData, raw)
	}

	req, err := DecodeRequest([]byte("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"} \r\n"))
	require.NoError(t, err)
	assert.Equal(t, "ping", req.Method)
}

func TestResponseEchoesNumericID(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","id":9007199254740993,"method":"ping"}`))
	require.NoError(t, err)

	resp, err := NewResponse(req.ID, PingResult{Message: "pong"})
	require.NoError(t, err)

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":9007199254740993,"result":{"message":"pong"}}`, string(out))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("x", &Error{Code: MethodNotFound, Message: "method not found"})

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"method not found"}}`, string(out))
}

func TestUnmarshalParams(t *testing.T) {
	req := &Request{Params: json.RawMessage(`{"name":"send_tari","arguments":{"amount":"1"}}`)}

	var params CallToolParams
	require.NoError(t, req.UnmarshalParams(&params))
	assert.Equal(t, "send_tari", params.Name)
	assert.Equal(t, "1", params.Arguments["amount"])

	empty := &Request{}
	var none CallToolParams
	require.NoError(t, empty.UnmarshalParams(&none))
	assert.Empty(t, none.Name)
}

func TestParseResourceURI(t *testing.T) {
	name, err := ParseResourceURI("tari://mining_status")
	require.NoError(t, err)
	assert.Equal(t, "mining_status", name)
	assert.Equal(t, "tari://mining_status", ResourceURI(name))

	for _, bad := range []string{"http://mining_status", "tari://", "tari://a/b", "mining_status"} {
		_, err := ParseResourceURI(bad)
		assert.Error(t, err, bad)
	}
}
