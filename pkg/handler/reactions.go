package handler

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
	"github.com/slackfast/slack-fast-mcp/pkg/provider"
)

type ReactionResponse struct {
	Channel   string `json:"channelID"`
	Timestamp string `json:"timestamp"`
	Emoji     string `json:"emoji"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

type reactionParams struct {
	channel   string
	timestamp string
	emoji     string
}

type ReactionsHandler struct {
	apiProvider *provider.ApiProvider
	logger      *zap.Logger
}

func NewReactionsHandler(apiProvider *provider.ApiProvider, logger *zap.Logger) *ReactionsHandler {
	return &ReactionsHandler{
		apiProvider: apiProvider,
		logger:      logger,
	}
}

func (rh *ReactionsHandler) ReactionsAddHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rh.logger.Debug("ReactionsAddHandler called", zap.Any("params", request.Params))

	params, err := rh.parseReactionParams(ctx, request)
	if err != nil {
		rh.logger.Error("Failed to parse reaction params", zap.Error(err))
		return nil, err
	}

	err = rh.apiProvider.Slack().AddReactionContext(ctx, params.emoji, slack.ItemRef{
		Channel:   params.channel,
		Timestamp: params.timestamp,
	})

	response := ReactionResponse{
		Channel:   params.channel,
		Timestamp: params.timestamp,
		Emoji:     params.emoji,
		Success:   err == nil,
	}

	if err != nil {
		response.Message = err.Error()
		rh.logger.Error("Failed to add reaction", zap.Error(err))
	} else {
		response.Message = "Reaction added successfully"
		rh.logger.Debug("Reaction added successfully",
			zap.String("channel", params.channel),
			zap.String("timestamp", params.timestamp),
			zap.String("emoji", params.emoji),
		)
	}

	return marshalReactionResponse(response)
}

func (rh *ReactionsHandler) ReactionsRemoveHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rh.logger.Debug("ReactionsRemoveHandler called", zap.Any("params", request.Params))

	params, err := rh.parseReactionParams(ctx, request)
	if err != nil {
		rh.logger.Error("Failed to parse reaction params", zap.Error(err))
		return nil, err
	}

	err = rh.apiProvider.Slack().RemoveReactionContext(ctx, params.emoji, slack.ItemRef{
		Channel:   params.channel,
		Timestamp: params.timestamp,
	})

	response := ReactionResponse{
		Channel:   params.channel,
		Timestamp: params.timestamp,
		Emoji:     params.emoji,
		Success:   err == nil,
	}

	if err != nil {
		response.Message = err.Error()
		rh.logger.Error("Failed to remove reaction", zap.Error(err))
	} else {
		response.Message = "Reaction removed successfully"
		rh.logger.Debug("Reaction removed successfully",
			zap.String("channel", params.channel),
			zap.String("timestamp", params.timestamp),
			zap.String("emoji", params.emoji),
		)
	}

	return marshalReactionResponse(response)
}

func (rh *ReactionsHandler) parseReactionParams(ctx context.Context, request mcp.CallToolRequest) (*reactionParams, error) {
	cfg := rh.apiProvider.Config()
	policy, toolEnabled := reactionPolicy(cfg)
	if !toolEnabled {
		rh.logger.Warn("Reaction tools are disabled")
		return nil, errors.New(
			"by default, the reactions_add and reactions_remove tools are disabled to guard Slack workspaces against accidental reactions." +
				" To enable them, set the SLACK_MCP_REACTION_TOOL environment variable",
		)
	}

	channel := request.GetString("channel_id", "")
	if channel == "" {
		return nil, errors.New("channel_id must be a string")
	}

	timestamp := request.GetString("timestamp", "")
	if timestamp == "" {
		return nil, errors.New("timestamp must be a string")
	}
	if !strings.Contains(timestamp, ".") {
		return nil, errors.New("timestamp must be in format 1234567890.123456")
	}

	emoji := request.GetString("emoji", "")
	if emoji == "" {
		return nil, errors.New("emoji must be a string")
	}
	emoji = strings.Trim(emoji, ":")

	channel, err := resolveChannelID(ctx, channel, rh.apiProvider, rh.logger)
	if err != nil {
		return nil, err
	}

	if !config.IsChannelAllowed(channel, policy) {
		rh.logger.Warn("Reaction not allowed for channel",
			zap.String("channel", channel),
			zap.String("policy", policy),
		)
		return nil, errors.New("reacting in channel " + channel + " is not allowed by SLACK_MCP_REACTION_TOOL policy")
	}

	return &reactionParams{
		channel:   channel,
		timestamp: timestamp,
		emoji:     emoji,
	}, nil
}

func reactionPolicy(cfg *config.Config) (policy string, enabled bool) {
	if cfg.ReactionTool != "" {
		return cfg.ReactionTool, true
	}
	if slices.Contains(cfg.EnabledTools, "reactions_add") || slices.Contains(cfg.EnabledTools, "reactions_remove") {
		return "", true
	}
	return "", false
}

func marshalReactionResponse(response ReactionResponse) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
