package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_EncodeSingleCommand(t *testing.T) {
	t.Parallel()

	codec := JSONCodec{}
	frame, err := codec.EncodeCommands([]*Command{
		{ID: 1, Connect: &ConnectRequest{Token: "t", Name: "go"}},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, float64(1), decoded["id"])
	connect := decoded["connect"].(map[string]any)
	assert.Equal(t, "t", connect["token"])
	assert.Equal(t, "go", connect["name"])
}

func TestJSONCodec_EncodeBatchNewlineDelimited(t *testing.T) {
	t.Parallel()

	codec := JSONCodec{}
	frame, err := codec.EncodeCommands([]*Command{
		{ID: 1, Subscribe: &SubscribeRequest{Channel: "a"}},
		{ID: 2, Subscribe: &SubscribeRequest{Channel: "b"}},
	})
	require.NoError(t, err)

	lines := strings.Split(string(frame), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		var cmd Command
		require.NoError(t, json.Unmarshal([]byte(line), &cmd))
		assert.Equal(t, uint32(i+1), cmd.ID)
	}
}

func TestJSONCodec_EncodeEmptyCommandIsPong(t *testing.T) {
	t.Parallel()

	codec := JSONCodec{}
	frame, err := codec.EncodeCommands([]*Command{{}})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(frame))
}

func TestJSONCodec_DecodeRepliesInOrder(t *testing.T) {
	t.Parallel()

	frame := strings.Join([]string{
		`{"id":1,"subscribe":{"recoverable":true,"epoch":"e1"}}`,
		`{"push":{"channel":"news","pub":{"offset":5,"data":{"input":"hi"}}}}`,
		`{"id":2,"publish":{}}`,
	}, "\n")

	codec := JSONCodec{}
	replies, err := codec.DecodeReplies([]byte(frame))
	require.NoError(t, err)
	require.Len(t, replies, 3)

	assert.Equal(t, uint32(1), replies[0].ID)
	require.NotNil(t, replies[0].Subscribe)
	assert.True(t, replies[0].Subscribe.Recoverable)

	assert.Equal(t, uint32(0), replies[1].ID)
	require.NotNil(t, replies[1].Push)
	assert.Equal(t, "news", replies[1].Push.Channel)
	require.NotNil(t, replies[1].Push.Pub)
	assert.Equal(t, uint64(5), replies[1].Push.Pub.Offset)

	assert.Equal(t, uint32(2), replies[2].ID)
	require.NotNil(t, replies[2].Publish)
}

func TestJSONCodec_DecodeErrorReply(t *testing.T) {
	t.Parallel()

	codec := JSONCodec{}
	replies, err := codec.DecodeReplies([]byte(`{"id":3,"error":{"code":109,"message":"token expired","temporary":true}}`))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.NotNil(t, replies[0].Error)
	assert.Equal(t, uint32(109), replies[0].Error.Code)
	assert.Equal(t, "token expired", replies[0].Error.Message)
	assert.True(t, replies[0].Error.Temporary)
}

func TestJSONCodec_DecodeMalformedFrame(t *testing.T) {
	t.Parallel()

	codec := JSONCodec{}
	_, err := codec.DecodeReplies([]byte(`{not json`))
	require.Error(t, err)
}

func TestJSONCodec_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	codec := JSONCodec{}
	replies, err := codec.DecodeReplies([]byte("{\"id\":1,\"publish\":{}}\n\n"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
}

func TestReply_IsPing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply Reply
		want  bool
	}{
		{name: "empty reply", reply: Reply{}, want: true},
		{name: "with id", reply: Reply{ID: 1}, want: false},
		{name: "with push", reply: Reply{Push: &Push{}}, want: false},
		{name: "with result", reply: Reply{Publish: &PublishResult{}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.reply.IsPing())
		})
	}
}

func TestCommand_OmitsEmptyFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(&Command{ID: 9, History: &HistoryRequest{Channel: "c", Limit: 10}})
	require.NoError(t, err)
	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 2, "only id and history may be present: %s", data)
}
