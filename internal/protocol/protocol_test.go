package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"newChatMessage","data":{"chatId":1,"text":"Hello!"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeNewChatMessage, f.Type)
	assert.JSONEq(t, `{"chatId":1,"text":"Hello!"}`, string(f.Data))

	_, err = DecodeFrame([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestMessageEncode_RawData(t *testing.T) {
	msg := Message{Type: "NEW_CHAT", Data: json.RawMessage(`{"chatId":9}`)}
	b, err := msg.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"NEW_CHAT","data":{"chatId":9}}`, string(b))
}
