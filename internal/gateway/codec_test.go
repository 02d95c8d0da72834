package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Request(t *testing.T) {
	raw := []byte(`{"type":"req","id":"r1","method":"chat.send","params":{"x":1}}`)
	req, res, event, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Nil(t, res)
	assert.Nil(t, event)
	assert.Equal(t, "r1", req.ID)
	assert.Equal(t, "chat.send", req.Method)
}

func TestDecodeFrame_Response(t *testing.T) {
	raw := []byte(`{"type":"res","id":"r1","ok":true,"payload":{"a":1}}`)
	req, res, event, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Nil(t, event)
	require.NotNil(t, res)
	assert.True(t, res.OK)
	assert.Equal(t, "r1", res.ID)
}

func TestDecodeFrame_Event(t *testing.T) {
	raw := []byte(`{"type":"event","event":"chat","payload":{"state":"delta"},"seq":3}`)
	req, res, event, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Nil(t, res)
	require.NotNil(t, event)
	assert.Equal(t, "chat", event.Event)
	require.NotNil(t, event.Seq)
	assert.EqualValues(t, 3, *event.Seq)
}

func TestDecodeFrame_UnknownTypeIgnored(t *testing.T) {
	raw := []byte(`{"type":"ping"}`)
	req, res, event, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Nil(t, res)
	assert.Nil(t, event)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := NewRequestFrame("r9", "models.list", map[string]string{"k": "v"})
	data, err := EncodeFrame(original)
	require.NoError(t, err)

	req, _, _, err := DecodeFrame(data)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, original.ID, req.ID)
	assert.Equal(t, original.Method, req.Method)

	var params map[string]string
	require.NoError(t, json.Unmarshal(mustMarshal(req.Params), &params))
	assert.Equal(t, "v", params["k"])
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
