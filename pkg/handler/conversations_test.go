package handler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
)

func TestLimitByNumeric(t *testing.T) {
	n, err := limitByNumeric("50")
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	for _, invalid := range []string{"", "0", "-5", "abc", "1.5"} {
		_, err := limitByNumeric(invalid)
		assert.Error(t, err, "limit %q should be rejected", invalid)
	}
}

func TestLimitByExpression(t *testing.T) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	tests := []struct {
		expr   string
		oldest time.Time
	}{
		{"1d", today},
		{"3d", today.AddDate(0, 0, -2)},
		{"1w", today.AddDate(0, 0, -6)},
		{"2w", today.AddDate(0, 0, -13)},
		{"1m", today.AddDate(0, -1, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			limit, oldest, latest, err := limitByExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, 100, limit)
			assert.Equal(t, fmt.Sprintf("%d.000000", tt.oldest.Unix()), oldest)
			assert.NotEmpty(t, latest)
		})
	}

	for _, invalid := range []string{"d", "0d", "-1d", "xd", "5y"} {
		_, _, _, err := limitByExpression(invalid)
		assert.Error(t, err, "expression %q should be rejected", invalid)
	}
}

func TestReactionsToString(t *testing.T) {
	assert.Equal(t, "", reactionsToString(nil))
	assert.Equal(t, "thumbsup:3", reactionsToString([]slack.ItemReaction{
		{Name: "thumbsup", Count: 3},
	}))
	assert.Equal(t, "thumbsup:3|eyes:1", reactionsToString([]slack.ItemReaction{
		{Name: "thumbsup", Count: 3},
		{Name: "eyes", Count: 1},
	}))
}

func TestFileIDsToString(t *testing.T) {
	assert.Equal(t, "", fileIDsToString(nil))
	assert.Equal(t, "F1,F2", fileIDsToString([]slack.File{{ID: "F1"}, {ID: "F2"}}))
}

func TestHasMedia(t *testing.T) {
	bare := slack.Message{}
	assert.False(t, hasMedia(&bare))

	plain := slack.Message{Msg: slack.Msg{Files: []slack.File{{Mimetype: "text/plain"}}}}
	assert.True(t, hasMedia(&plain), "any attached file counts")

	image := slack.Message{Msg: slack.Msg{Files: []slack.File{{Mimetype: "image/png"}}}}
	assert.True(t, hasMedia(&image))

	withImageBlock := slack.Message{}
	withImageBlock.Blocks = slack.Blocks{BlockSet: []slack.Block{
		&slack.ImageBlock{Type: slack.MBTImage, ImageURL: "https://example.com/x.png", AltText: "x"},
	}}
	assert.True(t, hasMedia(&withImageBlock))
}

func TestConvertMessagesFromHistory(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewConversationsHandler(p, zap.NewNop())

	messages := []slack.Message{
		{Msg: slack.Msg{
			Timestamp: "1700000000.000100",
			User:      "U1",
			Text:      "hello world",
			Reactions: []slack.ItemReaction{{Name: "eyes", Count: 2}},
		}},
		{Msg: slack.Msg{
			Timestamp: "1700000060.000200",
			SubType:   "channel_join",
			User:      "U2",
			Text:      "bob joined",
		}},
		{Msg: slack.Msg{
			Timestamp:       "1700000120.000300",
			SubType:         "bot_message",
			BotID:           "B1",
			Username:        "deploybot",
			Text:            "deploy finished",
			ThreadTimestamp: "1700000000.000100",
		}},
	}

	converted := ch.convertMessagesFromHistory(context.Background(), messages, "C1", false)
	require.Len(t, converted, 2, "channel_join activity message is dropped")

	first := converted[0]
	assert.Equal(t, "1700000000.000100", first.MsgID)
	assert.Equal(t, "U1", first.UserID)
	assert.Equal(t, "[SLACK_CONTENT]alice[/SLACK_CONTENT]", first.UserName)
	assert.Equal(t, "[SLACK_CONTENT]Alice Smith[/SLACK_CONTENT]", first.RealName)
	assert.Equal(t, "C1", first.Channel)
	assert.Equal(t, "[SLACK_CONTENT]hello world[/SLACK_CONTENT]", first.Text)
	assert.Equal(t, "2023-11-14T22:13:20Z", first.Time)
	assert.Equal(t, "eyes:2", first.Reactions)
	assert.Empty(t, first.BotName)

	bot := converted[1]
	assert.Equal(t, "[SLACK_CONTENT]deploybot[/SLACK_CONTENT]", bot.BotName)
	assert.Equal(t, "1700000000.000100", bot.ThreadTs)
}

func TestConvertMessagesFromHistoryIncludeActivity(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewConversationsHandler(p, zap.NewNop())

	messages := []slack.Message{
		{Msg: slack.Msg{Timestamp: "1700000060.000200", SubType: "channel_join", User: "U2", Text: "bob joined"}},
	}

	converted := ch.convertMessagesFromHistory(context.Background(), messages, "C1", true)
	assert.Len(t, converted, 1)
}

func TestParseParamsToolConversationsResolvesChannelName(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewConversationsHandler(p, zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"channel_id": "#general", "limit": "50"}

	params, err := ch.parseParamsToolConversations(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "C1", params.channel)
	assert.Equal(t, 50, params.limit)
	assert.Empty(t, params.oldest)
}

func TestParseParamsToolConversationsDefaultsToOneDay(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewConversationsHandler(p, zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"channel_id": "C1"}

	params, err := ch.parseParamsToolConversations(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 100, params.limit)
	assert.NotEmpty(t, params.oldest)
	assert.NotEmpty(t, params.latest)
}

func TestParseParamsToolConversationsCursorIgnoresLimit(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewConversationsHandler(p, zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"channel_id": "C1", "cursor": "dGVzdA==", "limit": "200"}

	params, err := ch.parseParamsToolConversations(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "dGVzdA==", params.cursor)
	assert.Equal(t, defaultConversationsNumericLimit, params.limit, "limit is ignored when a cursor is present")
	assert.Empty(t, params.oldest)
	assert.Empty(t, params.latest)
}

func TestAddMessageDisabledByDefault(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	ch := NewConversationsHandler(p, zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"channel_id": "C1", "payload": "hi"}

	_, err := ch.ConversationsAddMessageHandler(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLACK_MCP_ADD_MESSAGE_TOOL")
}

func TestAddMessagePolicy(t *testing.T) {
	policy, enabled := addMessagePolicy(&config.Config{})
	assert.False(t, enabled)
	assert.Empty(t, policy)

	policy, enabled = addMessagePolicy(&config.Config{AddMessageTool: "true"})
	assert.True(t, enabled)
	assert.Equal(t, "true", policy)

	policy, enabled = addMessagePolicy(&config.Config{AddMessageTool: "C1,C2"})
	assert.True(t, enabled)
	assert.Equal(t, "C1,C2", policy)

	_, enabled = addMessagePolicy(&config.Config{EnabledTools: []string{"conversations_add_message"}})
	assert.True(t, enabled)
}

func TestAddMessageChannelPolicyEnforced(t *testing.T) {
	p := newTestProvider(t, &stubSlack{})
	p.Config().AddMessageTool = "!C1"
	ch := NewConversationsHandler(p, zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"channel_id": "C1", "payload": "hi"}

	_, err := ch.ConversationsAddMessageHandler(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}
