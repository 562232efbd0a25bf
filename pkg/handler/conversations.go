package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/slack-go/slack"
	slackGoUtil "github.com/takara2314/slack-go-util"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
	"github.com/slackfast/slack-fast-mcp/pkg/provider"
	"github.com/slackfast/slack-fast-mcp/pkg/text"
)

const (
	defaultConversationsNumericLimit    = 50
	defaultConversationsExpressionLimit = "1d"
)

type Message struct {
	MsgID         string `json:"msgID"`
	UserID        string `json:"userID"`
	UserName      string `json:"userName"`
	RealName      string `json:"realName"`
	Channel       string `json:"channelID"`
	ThreadTs      string `json:"threadTs,omitempty"`
	Text          string `json:"text"`
	Time          string `json:"time"`
	Reactions     string `json:"reactions,omitempty"`
	BotName       string `json:"botName,omitempty"`
	FileCount     int    `json:"fileCount,omitempty"`
	AttachmentIDs string `json:"attachmentIDs,omitempty"`
	HasMedia      bool   `json:"hasMedia,omitempty"`
	Cursor        string `json:"cursor,omitempty"`
}

type conversationParams struct {
	channel         string
	limit           int
	oldest          string
	latest          string
	cursor          string
	includeActivity bool
}

type addMessageParams struct {
	channel     string
	threadTs    string
	text        string
	contentType string
}

type ConversationsHandler struct {
	apiProvider *provider.ApiProvider
	logger      *zap.Logger
}

func NewConversationsHandler(apiProvider *provider.ApiProvider, logger *zap.Logger) *ConversationsHandler {
	return &ConversationsHandler{
		apiProvider: apiProvider,
		logger:      logger,
	}
}

func (ch *ConversationsHandler) ConversationsHistoryHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ch.logger.Debug("ConversationsHistoryHandler called", zap.Any("params", request.Params))

	params, err := ch.parseParamsToolConversations(ctx, request)
	if err != nil {
		ch.logger.Error("Failed to parse conversation params", zap.Error(err))
		return nil, err
	}

	history, err := ch.apiProvider.Slack().GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: params.channel,
		Limit:     params.limit,
		Oldest:    params.oldest,
		Latest:    params.latest,
		Cursor:    params.cursor,
		Inclusive: false,
	})
	if err != nil {
		ch.logger.Error("Failed to get conversation history",
			zap.String("channel", params.channel),
			zap.Error(err),
		)
		return nil, err
	}

	messages := ch.convertMessagesFromHistory(ctx, history.Messages, params.channel, params.includeActivity)

	if history.HasMore && len(messages) > 0 {
		messages[len(messages)-1].Cursor = history.ResponseMetaData.NextCursor
	}

	return marshalMessagesToJSON(messages)
}

func (ch *ConversationsHandler) ConversationsRepliesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ch.logger.Debug("ConversationsRepliesHandler called", zap.Any("params", request.Params))

	params, err := ch.parseParamsToolConversations(ctx, request)
	if err != nil {
		ch.logger.Error("Failed to parse conversation params", zap.Error(err))
		return nil, err
	}

	threadTs := request.GetString("thread_ts", "")
	if threadTs == "" {
		return nil, errors.New("thread_ts must be a string")
	}
	if !strings.Contains(threadTs, ".") {
		return nil, errors.New("thread_ts must be a valid timestamp in format 1234567890.123456")
	}

	replies, hasMore, nextCursor, err := ch.apiProvider.Slack().GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: params.channel,
		Timestamp: threadTs,
		Limit:     params.limit,
		Oldest:    params.oldest,
		Latest:    params.latest,
		Cursor:    params.cursor,
		Inclusive: false,
	})
	if err != nil {
		ch.logger.Error("Failed to get conversation replies",
			zap.String("channel", params.channel),
			zap.String("thread_ts", threadTs),
			zap.Error(err),
		)
		return nil, err
	}

	messages := ch.convertMessagesFromHistory(ctx, replies, params.channel, params.includeActivity)

	if hasMore && len(messages) > 0 {
		messages[len(messages)-1].Cursor = nextCursor
	}

	return marshalMessagesToJSON(messages)
}

func (ch *ConversationsHandler) ConversationsAddMessageHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ch.logger.Debug("ConversationsAddMessageHandler called", zap.Any("params", request.Params))

	cfg := ch.apiProvider.Config()
	policy, toolEnabled := addMessagePolicy(cfg)
	if !toolEnabled {
		ch.logger.Warn("Add message tool is disabled")
		return nil, errors.New(
			"by default, the conversations_add_message tool is disabled to guard Slack workspaces against accidental spamming." +
				" To enable it, set the SLACK_MCP_ADD_MESSAGE_TOOL environment variable",
		)
	}

	params, err := ch.parseParamsToolAddMessage(ctx, request)
	if err != nil {
		ch.logger.Error("Failed to parse add message params", zap.Error(err))
		return nil, err
	}

	if !config.IsChannelAllowed(params.channel, policy) {
		ch.logger.Warn("Add message not allowed for channel",
			zap.String("channel", params.channel),
			zap.String("policy", policy),
		)
		return nil, fmt.Errorf("posting to channel %q is not allowed by SLACK_MCP_ADD_MESSAGE_TOOL policy", params.channel)
	}

	options := []slack.MsgOption{}
	if params.threadTs != "" {
		options = append(options, slack.MsgOptionTS(params.threadTs))
	}

	if params.contentType == "text/markdown" {
		blocks, err := slackGoUtil.ConvertMarkdownTextToBlocks(params.text)
		if err == nil {
			options = append(options, slack.MsgOptionBlocks(blocks...))
		} else {
			ch.logger.Warn("Failed to convert markdown to blocks, falling back to plain text", zap.Error(err))
			options = append(options, slack.MsgOptionText(params.text, false))
		}
	} else {
		options = append(options, slack.MsgOptionText(params.text, false), slack.MsgOptionDisableMarkdown())
	}

	if text.IsUnfurlingEnabled(params.text, cfg.AddMessageUnfurling, ch.logger) {
		options = append(options, slack.MsgOptionEnableLinkUnfurl())
	} else {
		options = append(options, slack.MsgOptionDisableLinkUnfurl(), slack.MsgOptionDisableMediaUnfurl())
	}

	respChannel, respTimestamp, err := ch.apiProvider.Slack().PostMessageContext(ctx, params.channel, options...)
	if err != nil {
		ch.logger.Error("Failed to post message",
			zap.String("channel", params.channel),
			zap.Error(err),
		)
		return nil, err
	}

	if cfg.AddMessageMark {
		if err := ch.apiProvider.Slack().MarkConversationContext(ctx, respChannel, respTimestamp); err != nil {
			ch.logger.Warn("Failed to mark conversation as read",
				zap.String("channel", respChannel),
				zap.Error(err),
			)
		}
	}

	// Re-fetch the posted message so the response matches what history
	// would return for it.
	history, err := ch.apiProvider.Slack().GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: respChannel,
		Latest:    respTimestamp,
		Limit:     1,
		Inclusive: true,
	})
	if err == nil && len(history.Messages) > 0 {
		return marshalMessagesToJSON(ch.convertMessagesFromHistory(ctx, history.Messages, respChannel, true))
	}
	if err != nil {
		ch.logger.Warn("Failed to re-fetch posted message", zap.Error(err))
	}

	timeStr, tsErr := text.TimestampToRFC3339(respTimestamp)
	if tsErr != nil {
		timeStr = respTimestamp
	}

	var userID, userName, realName string
	if ar, err := ch.apiProvider.AuthTest(ctx); err == nil {
		userID = ar.UserID
		userName = ar.User
		if user, ok := ch.apiProvider.ProvideUsersMap().Users[ar.UserID]; ok {
			realName = user.RealName
		}
	}

	return marshalMessagesToJSON([]Message{{
		MsgID:    respTimestamp,
		UserID:   userID,
		UserName: text.WrapSlackContent(userName),
		RealName: text.WrapSlackContent(realName),
		Channel:  respChannel,
		ThreadTs: params.threadTs,
		Text:     text.WrapSlackContent(text.ProcessText(params.text)),
		Time:     timeStr,
	}})
}

func (ch *ConversationsHandler) parseParamsToolConversations(ctx context.Context, request mcp.CallToolRequest) (*conversationParams, error) {
	channel := request.GetString("channel_id", "")
	if channel == "" {
		return nil, errors.New("channel_id must be a string")
	}

	channel, err := resolveChannelID(ctx, channel, ch.apiProvider, ch.logger)
	if err != nil {
		return nil, err
	}

	limit := request.GetString("limit", "")
	cursor := request.GetString("cursor", "")
	includeActivity := request.GetBool("include_activity_messages", false)

	if limit == "" && cursor == "" {
		limit = defaultConversationsExpressionLimit
	}

	params := &conversationParams{
		channel:         channel,
		cursor:          cursor,
		limit:           defaultConversationsNumericLimit,
		includeActivity: includeActivity,
	}

	// A cursor already pins the page boundaries, so a limit sent along with
	// it is ignored and the default page size applies.
	if limit != "" && cursor == "" {
		if strings.HasSuffix(limit, "d") || strings.HasSuffix(limit, "w") || strings.HasSuffix(limit, "m") {
			params.limit, params.oldest, params.latest, err = limitByExpression(limit)
		} else {
			params.limit, err = limitByNumeric(limit)
		}
		if err != nil {
			return nil, err
		}
	}

	return params, nil
}

func (ch *ConversationsHandler) parseParamsToolAddMessage(ctx context.Context, request mcp.CallToolRequest) (*addMessageParams, error) {
	channel := request.GetString("channel_id", "")
	if channel == "" {
		return nil, errors.New("channel_id must be a string")
	}

	channel, err := resolveChannelID(ctx, channel, ch.apiProvider, ch.logger)
	if err != nil {
		return nil, err
	}

	threadTs := request.GetString("thread_ts", "")
	if threadTs != "" && !strings.Contains(threadTs, ".") {
		return nil, errors.New("thread_ts must be a valid timestamp in format 1234567890.123456")
	}

	msgText := request.GetString("payload", "")
	if msgText == "" {
		msgText = request.GetString("text", "")
	}
	if msgText == "" {
		return nil, errors.New("text must be a string")
	}

	contentType := request.GetString("content_type", "text/markdown")
	if contentType != "text/plain" && contentType != "text/markdown" {
		return nil, errors.New("content_type must be either text/plain or text/markdown")
	}

	return &addMessageParams{
		channel:     channel,
		threadTs:    threadTs,
		text:        msgText,
		contentType: contentType,
	}, nil
}

func (ch *ConversationsHandler) convertMessagesFromHistory(ctx context.Context, messages []slack.Message, channelID string, includeActivity bool) []Message {
	usersMap := ch.apiProvider.ProvideUsersMap()
	converted := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if msg.SubType != "" && msg.SubType != "bot_message" && msg.SubType != "thread_broadcast" && !includeActivity {
			continue
		}

		timeStr, err := text.TimestampToRFC3339(msg.Timestamp)
		if err != nil {
			ch.logger.Warn("Skipping message with malformed timestamp",
				zap.String("ts", msg.Timestamp),
				zap.Error(err),
			)
			continue
		}

		userID, userName, realName := getUserInfo(&msg, usersMap)

		body := msg.Text
		body += text.AttachmentsToText(body, msg.Attachments)
		body += text.MessageBlocksToText(msg.Blocks)
		if filesText := text.FilesToText(msg.Files); filesText != "" {
			if body != "" {
				body += ". "
			}
			body += filesText
		}

		converted = append(converted, Message{
			MsgID:         msg.Timestamp,
			UserID:        userID,
			UserName:      text.WrapSlackContent(userName),
			RealName:      text.WrapSlackContent(realName),
			Channel:       channelID,
			ThreadTs:      msg.ThreadTimestamp,
			Text:          text.WrapSlackContent(text.ProcessText(body)),
			Time:          timeStr,
			Reactions:     reactionsToString(msg.Reactions),
			BotName:       text.WrapSlackContent(ch.getBotName(ctx, &msg)),
			FileCount:     len(msg.Files),
			AttachmentIDs: fileIDsToString(msg.Files),
			HasMedia:      hasMedia(&msg),
		})
	}

	return converted
}

func getUserInfo(msg *slack.Message, usersMap *provider.UsersCache) (userID, userName, realName string) {
	if user, ok := usersMap.Users[msg.User]; ok {
		return msg.User, user.Name, user.RealName
	}
	if msg.Username != "" {
		return msg.User, msg.Username, msg.Username
	}
	return msg.User, msg.User, msg.User
}

// getBotName resolves the display name for bot authored messages. The bot
// profile on the message is preferred; a bare BotID costs one API lookup.
func (ch *ConversationsHandler) getBotName(ctx context.Context, msg *slack.Message) string {
	if msg.BotID == "" {
		return ""
	}
	if msg.BotProfile != nil && msg.BotProfile.Name != "" {
		return msg.BotProfile.Name
	}
	if msg.Username != "" {
		return msg.Username
	}

	bot, err := ch.apiProvider.Slack().GetBotInfoContext(ctx, slack.GetBotInfoParameters{Bot: msg.BotID})
	if err != nil {
		ch.logger.Debug("Failed to look up bot info",
			zap.String("bot_id", msg.BotID),
			zap.Error(err),
		)
		return msg.BotID
	}
	return bot.Name
}

func reactionsToString(reactions []slack.ItemReaction) string {
	if len(reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(reactions))
	for _, r := range reactions {
		parts = append(parts, fmt.Sprintf("%s:%d", r.Name, r.Count))
	}
	return strings.Join(parts, "|")
}

func fileIDsToString(files []slack.File) string {
	if len(files) == 0 {
		return ""
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	return strings.Join(ids, ",")
}

func hasMedia(msg *slack.Message) bool {
	if len(msg.Files) > 0 {
		return true
	}
	for _, block := range msg.Blocks.BlockSet {
		if block.BlockType() == slack.MBTImage {
			return true
		}
	}
	return false
}

func addMessagePolicy(cfg *config.Config) (policy string, enabled bool) {
	if cfg.AddMessageTool != "" {
		return cfg.AddMessageTool, true
	}
	if slices.Contains(cfg.EnabledTools, "conversations_add_message") {
		return "", true
	}
	return "", false
}

func limitByNumeric(limit string) (int, error) {
	n, err := strconv.Atoi(limit)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q: must be a positive number or a duration like 1d, 2w, 3m", limit)
	}
	return n, nil
}

// limitByExpression translates a duration limit ("1d", "2w", "3m") into a
// time window. "1d" means today, "2d" today and yesterday, and so on; day
// arithmetic runs in UTC.
func limitByExpression(limit string) (int, string, string, error) {
	if len(limit) < 2 {
		return 0, "", "", fmt.Errorf("invalid duration limit %q", limit)
	}

	n, err := strconv.Atoi(limit[:len(limit)-1])
	if err != nil || n <= 0 {
		return 0, "", "", fmt.Errorf("invalid duration limit %q", limit)
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var oldest time.Time
	switch limit[len(limit)-1] {
	case 'd':
		oldest = today.AddDate(0, 0, -n+1)
	case 'w':
		oldest = today.AddDate(0, 0, -n*7+1)
	case 'm':
		oldest = today.AddDate(0, -n, 0)
	default:
		return 0, "", "", fmt.Errorf("invalid duration limit %q", limit)
	}

	return 100,
		fmt.Sprintf("%d.000000", oldest.Unix()),
		fmt.Sprintf("%d.000000", now.Unix()),
		nil
}

func marshalMessagesToJSON(messages []Message) (*mcp.CallToolResult, error) {
	if messages == nil {
		messages = []Message{}
	}
	jsonBytes, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
