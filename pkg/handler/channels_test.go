package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/provider"
)

func TestFilterChannelsByTypes(t *testing.T) {
	channels := map[string]provider.Channel{
		"C1": {ID: "C1", Name: "#general"},
		"C2": {ID: "C2", Name: "#secret", IsPrivate: true},
		"D1": {ID: "D1", Name: "@alice", IsIM: true},
		"G1": {ID: "G1", Name: "@mpdm-alice--bob-1", IsMpIM: true},
	}

	ids := func(chans []provider.Channel) []string {
		var out []string
		for _, ch := range chans {
			out = append(out, ch.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"C1"}, ids(filterChannelsByTypes(channels, []string{provider.PubChanType})))
	assert.ElementsMatch(t, []string{"C2"}, ids(filterChannelsByTypes(channels, []string{provider.PrivateChanType})))
	assert.ElementsMatch(t, []string{"D1"}, ids(filterChannelsByTypes(channels, []string{provider.ImChanType})))
	assert.ElementsMatch(t, []string{"G1"}, ids(filterChannelsByTypes(channels, []string{provider.MpimChanType})))
	assert.ElementsMatch(t, []string{"C1", "C2", "D1", "G1"}, ids(filterChannelsByTypes(channels, provider.AllChanTypes)))
}

func TestPaginateChannels(t *testing.T) {
	channels := []provider.Channel{
		{ID: "C3"}, {ID: "C1"}, {ID: "C2"}, {ID: "C4"}, {ID: "C5"},
	}

	page, cursor := paginateChannels(channels, "", 2)
	require.Len(t, page, 2)
	assert.Equal(t, "C1", page[0].ID)
	assert.Equal(t, "C2", page[1].ID)
	require.NotEmpty(t, cursor)
	assert.Equal(t, "C2", decodeCursor(t, cursor))

	page, cursor = paginateChannels(channels, cursor, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "C3", page[0].ID)
	assert.Equal(t, "C4", page[1].ID)

	page, cursor = paginateChannels(channels, cursor, 2)
	require.Len(t, page, 1)
	assert.Equal(t, "C5", page[0].ID)
	assert.Empty(t, cursor, "last page has no cursor")

	page, cursor = paginateChannels(channels, "", -5)
	require.Len(t, page, 5, "non-positive limits fall back to the default page size")
	assert.Empty(t, cursor)
}

func TestChannelsHandlerReturnsJSON(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewChannelsHandler(p, zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"channel_types": "public_channel"}

	result, err := ch.ChannelsHandler(context.Background(), req)
	require.NoError(t, err)

	var channels []Channel
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "C1", channels[0].ID)
	assert.Equal(t, "#general", channels[0].Name)

	req.Params.Arguments = map[string]any{"channel_types": "public_channel", "limit": -5}
	result, err = ch.ChannelsHandler(context.Background(), req)
	require.NoError(t, err, "negative limits use the default page size")
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &channels))
	assert.Len(t, channels, 1)
}

func TestChannelsResource(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewChannelsHandler(p, zap.NewNop())

	contents, err := ch.ChannelsResource(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	resource, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "slack://myteam/channels", resource.URI)
	assert.Equal(t, "application/json", resource.MIMEType)

	var channels []Channel
	require.NoError(t, json.Unmarshal([]byte(resource.Text), &channels))
	assert.Len(t, channels, 2)
}

func decodeCursor(t *testing.T, cursor string) string {
	t.Helper()
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	require.NoError(t, err)
	return string(decoded)
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	textContent, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return textContent.Text
}
