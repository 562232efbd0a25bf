package server

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/handler"
	"github.com/slackfast/slack-fast-mcp/pkg/provider"
	"github.com/slackfast/slack-fast-mcp/pkg/version"
)

const (
	ToolConversationsHistory        = "conversations_history"
	ToolConversationsReplies        = "conversations_replies"
	ToolConversationsAddMessage     = "conversations_add_message"
	ToolConversationsSearchMessages = "conversations_search_messages"
	ToolChannelsList                = "channels_list"
	ToolReactionsAdd                = "reactions_add"
	ToolReactionsRemove             = "reactions_remove"
	ToolUsersSearch                 = "users_search"
	ToolAttachmentGetData           = "attachment_get_data"
)

var ValidToolNames = []string{
	ToolConversationsHistory,
	ToolConversationsReplies,
	ToolConversationsAddMessage,
	ToolConversationsSearchMessages,
	ToolChannelsList,
	ToolReactionsAdd,
	ToolReactionsRemove,
	ToolUsersSearch,
	ToolAttachmentGetData,
}

type MCPServer struct {
	server *server.MCPServer
	logger *zap.Logger
}

func NewMCPServer(apiProvider *provider.ApiProvider, logger *zap.Logger) *MCPServer {
	s := server.NewMCPServer(
		"Slack MCP Server",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(buildLoggerMiddleware(logger)),
	)

	enabledTools := apiProvider.Config().EnabledTools

	conversationsHandler := handler.NewConversationsHandler(apiProvider, logger)
	searchHandler := handler.NewSearchHandler(apiProvider, logger)
	channelsHandler := handler.NewChannelsHandler(apiProvider, logger)
	reactionsHandler := handler.NewReactionsHandler(apiProvider, logger)
	usersHandler := handler.NewUsersHandler(apiProvider, logger)
	attachmentsHandler := handler.NewAttachmentsHandler(apiProvider, logger)

	if shouldAddTool(ToolConversationsHistory, enabledTools) {
		s.AddTool(mcp.NewTool(ToolConversationsHistory,
			mcp.WithDescription("Get messages from the channel (or DM) by channel_id, the last row/column in the response is used as 'cursor' parameter for pagination if not empty"),
			mcp.WithString("channel_id",
				mcp.Required(),
				mcp.Description("ID of the channel in format Cxxxxxxxxxx or its name starting with #... or @... aka #general or @username_dm."),
			),
			mcp.WithBoolean("include_activity_messages",
				mcp.Description("If true, the response will include activity messages such as 'channel_join' or 'channel_leave'. Default is boolean false."),
				mcp.DefaultBool(false),
			),
			mcp.WithString("cursor",
				mcp.Description("Cursor for pagination. Use the value of the last row and column in the response 'cursor' field."),
			),
			mcp.WithString("limit",
				mcp.DefaultString("1d"),
				mcp.Description("Limit of messages to fetch in format of maximum ranges of time (e.g. 1d - 1 day, 1w - 1 week, 30d - 30 days, 90d - 90 days which is a default limit for free tier history) or number of messages (e.g. 50). Must be empty when 'cursor' is provided."),
			),
		), conversationsHandler.ConversationsHistoryHandler)
	}

	if shouldAddTool(ToolConversationsReplies, enabledTools) {
		s.AddTool(mcp.NewTool(ToolConversationsReplies,
			mcp.WithDescription("Get a thread of messages posted to a conversation by channelID and thread_ts, the last row/column in the response is used as 'cursor' parameter for pagination if not empty"),
			mcp.WithString("channel_id",
				mcp.Required(),
				mcp.Description("ID of the channel in format Cxxxxxxxxxx or its name starting with #... or @... aka #general or @username_dm."),
			),
			mcp.WithString("thread_ts",
				mcp.Required(),
				mcp.Description("Unique identifier of either a thread's parent message or a message in the thread_ts must be the timestamp in format 1234567890.123456 of an existing message with 0 or more replies."),
			),
			mcp.WithBoolean("include_activity_messages",
				mcp.Description("If true, the response will include activity messages such as 'channel_join' or 'channel_leave'. Default is boolean false."),
				mcp.DefaultBool(false),
			),
			mcp.WithString("cursor",
				mcp.Description("Cursor for pagination. Use the value of the last row and column in the response 'cursor' field."),
			),
			mcp.WithString("limit",
				mcp.DefaultString("1d"),
				mcp.Description("Limit of messages to fetch in format of maximum ranges of time (e.g. 1d - 1 day, 1w - 1 week, 30d - 30 days, 90d - 90 days which is a default limit for free tier history) or number of messages (e.g. 50). Must be empty when 'cursor' is provided."),
			),
		), conversationsHandler.ConversationsRepliesHandler)
	}

	if shouldAddWriteTool(ToolConversationsAddMessage, enabledTools, "SLACK_MCP_ADD_MESSAGE_TOOL") {
		s.AddTool(mcp.NewTool(ToolConversationsAddMessage,
			mcp.WithDescription("Add a message to a public channel, private channel, or direct message (DM, or IM) conversation by channel_id and thread_ts."),
			mcp.WithString("channel_id",
				mcp.Required(),
				mcp.Description("ID of the channel in format Cxxxxxxxxxx or its name starting with #... or @... aka #general or @username_dm."),
			),
			mcp.WithString("thread_ts",
				mcp.Description("Unique identifier of either a thread's parent message or a message in the thread_ts must be the timestamp in format 1234567890.123456 of an existing message with 0 or more replies. Optional, if not provided the message will be added to the channel itself, otherwise it will be added to the thread."),
			),
			mcp.WithString("payload",
				mcp.Description("Message payload in specified content_type format. Example: 'Hello, world!' for text/plain or '# Hello, world!' for text/markdown."),
			),
			mcp.WithString("content_type",
				mcp.DefaultString("text/markdown"),
				mcp.Description("Content type of the message. Default is 'text/markdown'. Allowed values: 'text/markdown', 'text/plain'."),
			),
		), conversationsHandler.ConversationsAddMessageHandler)
	}

	if shouldAddTool(ToolConversationsSearchMessages, enabledTools) {
		s.AddTool(mcp.NewTool(ToolConversationsSearchMessages,
			mcp.WithDescription("Search messages in a public channel, private channel, or direct message (DM, or IM) conversation using filters. All filters are optional, if not provided then search_query is required."),
			mcp.WithString("search_query",
				mcp.Description("Search query to filter messages. Example: 'marketing report' or full URL of Slack message e.g. 'https://slack.com/archives/C1234567890/p1234567890123456', then the tool will return a single message matching given URL, herewith all other parameters will be ignored."),
			),
			mcp.WithString("filter_in_channel",
				mcp.Description("Filter messages in a specific channel by its ID or name. Example: 'C1234567890' or '#general'. If not provided, all channels will be searched."),
			),
			mcp.WithString("filter_in_im_or_mpim",
				mcp.Description("Filter messages in a direct message (DM) or multi-person direct message (MPIM) conversation by its ID or name. Example: 'D1234567890' or '@username_dm'. If not provided, all DMs and MPIMs will be searched."),
			),
			mcp.WithString("filter_users_with",
				mcp.Description("Filter messages with a specific user by their ID or display name in threads and DMs. Example: 'U1234567890' or '@username'. If not provided, all threads and DMs will be searched."),
			),
			mcp.WithString("filter_users_from",
				mcp.Description("Filter messages from a specific user by their ID or display name. Example: 'U1234567890' or '@username'. If not provided, all users will be searched."),
			),
			mcp.WithString("filter_date_before",
				mcp.Description("Filter messages sent before a specific date in format 'YYYY-MM-DD'. Example: '2023-10-01', 'July 2023', 'Yesterday' or 'Today'. If not provided, all dates will be searched."),
			),
			mcp.WithString("filter_date_after",
				mcp.Description("Filter messages sent after a specific date in format 'YYYY-MM-DD'. Example: '2023-10-01', 'July 2023', 'Yesterday' or 'Today'. If not provided, all dates will be searched."),
			),
			mcp.WithString("filter_date_on",
				mcp.Description("Filter messages sent on a specific date in format 'YYYY-MM-DD'. Example: '2023-10-01', 'July 2023', 'Yesterday' or 'Today'. If not provided, all dates will be searched."),
			),
			mcp.WithString("filter_date_during",
				mcp.Description("Filter messages sent during a specific period in format 'YYYY-MM-DD'. Example: 'July 2023', 'Yesterday' or 'Today'. If not provided, all dates will be searched."),
			),
			mcp.WithBoolean("filter_threads_only",
				mcp.Description("If true, the response will include only messages from threads. Default is boolean false."),
				mcp.DefaultBool(false),
			),
			mcp.WithString("cursor",
				mcp.DefaultString(""),
				mcp.Description("Cursor for pagination. Use the value of the last row and column in the response 'cursor' field."),
			),
			mcp.WithNumber("limit",
				mcp.DefaultNumber(20),
				mcp.Description("The maximum number of items to return. Must be an integer between 1 and 100."),
			),
		), searchHandler.ConversationsSearchHandler)
	}

	if shouldAddTool(ToolChannelsList, enabledTools) {
		s.AddTool(mcp.NewTool(ToolChannelsList,
			mcp.WithDescription("Get list of channels"),
			mcp.WithString("channel_types",
				mcp.Required(),
				mcp.Description("Comma-separated channel types. Allowed values: 'mpim', 'im', 'public_channel', 'private_channel'. Example: 'public_channel,private_channel,im'"),
			),
			mcp.WithString("sort",
				mcp.Description("Type of sorting. Allowed values: 'popularity' - sort by number of members/participants in each channel."),
			),
			mcp.WithNumber("limit",
				mcp.DefaultNumber(100),
				mcp.Description("The maximum number of items to return. Must be an integer between 1 and 1000 (maximum 999)."),
			),
			mcp.WithString("cursor",
				mcp.Description("Cursor for pagination. Use the value of the last row and column in the response 'cursor' field."),
			),
		), channelsHandler.ChannelsHandler)
	}

	if shouldAddWriteTool(ToolReactionsAdd, enabledTools, "SLACK_MCP_REACTION_TOOL") {
		s.AddTool(mcp.NewTool(ToolReactionsAdd,
			mcp.WithDescription("Add an emoji reaction to a message in a channel or DM."),
			mcp.WithString("channel_id",
				mcp.Required(),
				mcp.Description("ID of the channel in format Cxxxxxxxxxx or its name starting with #... or @... aka #general or @username_dm."),
			),
			mcp.WithString("timestamp",
				mcp.Required(),
				mcp.Description("Timestamp of the message to react to in format 1234567890.123456."),
			),
			mcp.WithString("emoji",
				mcp.Required(),
				mcp.Description("Emoji name without colons, e.g. 'thumbsup' or ':thumbsup:'."),
			),
		), reactionsHandler.ReactionsAddHandler)
	}

	if shouldAddWriteTool(ToolReactionsRemove, enabledTools, "SLACK_MCP_REACTION_TOOL") {
		s.AddTool(mcp.NewTool(ToolReactionsRemove,
			mcp.WithDescription("Remove an emoji reaction from a message in a channel or DM."),
			mcp.WithString("channel_id",
				mcp.Required(),
				mcp.Description("ID of the channel in format Cxxxxxxxxxx or its name starting with #... or @... aka #general or @username_dm."),
			),
			mcp.WithString("timestamp",
				mcp.Required(),
				mcp.Description("Timestamp of the message to remove the reaction from in format 1234567890.123456."),
			),
			mcp.WithString("emoji",
				mcp.Required(),
				mcp.Description("Emoji name without colons, e.g. 'thumbsup' or ':thumbsup:'."),
			),
		), reactionsHandler.ReactionsRemoveHandler)
	}

	if shouldAddTool(ToolUsersSearch, enabledTools) {
		s.AddTool(mcp.NewTool(ToolUsersSearch,
			mcp.WithDescription("Search workspace users by handle, real name, display name or email. Matching is case insensitive substring search over the users cache."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query, e.g. 'john' or 'john@example.com'."),
			),
			mcp.WithNumber("limit",
				mcp.DefaultNumber(10),
				mcp.Description("The maximum number of users to return. Must be an integer between 1 and 100."),
			),
		), usersHandler.UsersSearchHandler)
	}

	if shouldAddWriteTool(ToolAttachmentGetData, enabledTools, "SLACK_MCP_ATTACHMENT_TOOL") {
		s.AddTool(mcp.NewTool(ToolAttachmentGetData,
			mcp.WithDescription("Download the content of a file shared in Slack by its file ID. Text files are returned as-is, binary files base64 encoded. Files larger than 5MB are rejected."),
			mcp.WithString("file_id",
				mcp.Required(),
				mcp.Description("ID of the file in format Fxxxxxxxxxx, see the attachmentIDs field of messages."),
			),
		), attachmentsHandler.AttachmentGetHandler)
	}

	logger.Info("Authenticating with Slack API...")
	ar, err := apiProvider.AuthTest(context.Background())
	if err != nil {
		logger.Fatal("Failed to authenticate with Slack", zap.Error(err))
	}

	ws := apiProvider.Workspace()
	logger.Info("Authenticated with Slack",
		zap.String("team", ar.Team),
		zap.String("user", ar.User),
		zap.String("workspace", ws),
	)

	s.AddResource(mcp.NewResource(
		"slack://"+ws+"/channels",
		"Directory of Slack channels",
		mcp.WithResourceDescription("List of all channels in the Slack workspace with their topic, purpose and member count"),
		mcp.WithMIMEType("application/json"),
	), channelsHandler.ChannelsResource)

	s.AddResource(mcp.NewResource(
		"slack://"+ws+"/users",
		"Directory of Slack users",
		mcp.WithResourceDescription("List of all users in the Slack workspace with their ID, handle and real name"),
		mcp.WithMIMEType("application/json"),
	), usersHandler.UsersResource)

	return &MCPServer{
		server: s,
		logger: logger,
	}
}

func (s *MCPServer) ServeSSE(addr string) *server.SSEServer {
	return server.NewSSEServer(s.server,
		server.WithBaseURL(fmt.Sprintf("http://%s", addr)),
	)
}

func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server)
}

// ValidateEnabledTools checks SLACK_MCP_ENABLED_TOOLS entries against the
// known tool names so typos fail fast at startup instead of silently
// disabling tools.
func ValidateEnabledTools(enabledTools []string) error {
	var invalid []string
	for _, tool := range enabledTools {
		if !slices.Contains(ValidToolNames, tool) {
			invalid = append(invalid, tool)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid tool name(s): %s. Valid tools are: %s",
			strings.Join(invalid, ", "),
			strings.Join(ValidToolNames, ", "),
		)
	}
	return nil
}

// shouldAddTool decides whether a read tool gets registered. An empty
// enabledTools list means everything is on; a non-empty list is an explicit
// allow list.
func shouldAddTool(toolName string, enabledTools []string) bool {
	if len(enabledTools) == 0 {
		return true
	}
	return slices.Contains(enabledTools, toolName)
}

// shouldAddWriteTool decides whether a write tool gets registered. Write
// tools stay hidden unless their gating env var is set or the tool is
// explicitly listed in enabledTools.
func shouldAddWriteTool(toolName string, enabledTools []string, envVar string) bool {
	if len(enabledTools) > 0 {
		return slices.Contains(enabledTools, toolName)
	}
	return os.Getenv(envVar) != ""
}

func buildLoggerMiddleware(logger *zap.Logger) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			logger.Debug("Tool called",
				zap.String("tool", request.Params.Name),
				zap.Any("arguments", request.Params.Arguments),
			)

			result, err := next(ctx, request)
			if err != nil {
				logger.Error("Tool call failed",
					zap.String("tool", request.Params.Name),
					zap.Error(err),
				)
			}
			return result, err
		}
	}
}
