package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec()
	codec.Register("test", JSONDecoder[testItem]())

	envelope, err := codec.Encode(&testItem{Payload: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "test", gjson.GetBytes(envelope, "type").String())
	assert.Equal(t, "hello", gjson.GetBytes(envelope, "data.payload").String())

	item, err := codec.Decode(envelope)
	require.NoError(t, err)
	decoded, ok := item.(*testItem)
	require.True(t, ok)
	assert.Equal(t, "hello", decoded.Payload)
}

func TestCodec_UnknownKind(t *testing.T) {
	codec := NewCodec()

	_, err := codec.Decode([]byte(`{"type":"mystery","data":{}}`))
	assert.ErrorContains(t, err, "no decoder registered")

	_, err = codec.Decode([]byte(`{"data":{}}`))
	assert.ErrorContains(t, err, "no type tag")

	codec.Register("test", JSONDecoder[testItem]())
	_, err = codec.Decode([]byte(`{"type":"test"}`))
	assert.ErrorContains(t, err, "no data")
}
