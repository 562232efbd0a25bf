package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/provider"
)

// resolveChannelID resolves a channel name (starting with # or @) to its ID.
// If the input is already an ID, it returns it unchanged. Names missing from
// the cache trigger one forced refresh before giving up, so channels created
// after the last sync still resolve.
func resolveChannelID(ctx context.Context, channelIDOrName string, apiProvider *provider.ApiProvider, logger *zap.Logger) (string, error) {
	if !strings.HasPrefix(channelIDOrName, "#") && !strings.HasPrefix(channelIDOrName, "@") {
		return channelIDOrName, nil
	}

	if ready, err := apiProvider.IsReady(); !ready {
		if errors.Is(err, provider.ErrUsersNotReady) {
			logger.Warn(
				"WARNING: Slack users sync is not ready yet, you may experience some limited functionality and see UIDs instead of resolved names as well as unable to query users by their @handles. Users sync is part of channels sync and operations on channels depend on users collection (IM, MPIM). Please wait until users are synced and try again",
				zap.Error(err),
			)
		}
		if errors.Is(err, provider.ErrChannelsNotReady) {
			logger.Warn(
				"WARNING: Slack channels sync is not ready yet, you may experience some limited functionality and be able to request conversation only by Channel ID, not by its name. Please wait until channels are synced and try again.",
				zap.Error(err),
			)
		}
		return "", fmt.Errorf("channel %q not found in empty cache", channelIDOrName)
	}

	channelsMaps := apiProvider.ProvideChannelsMaps()
	if channelID, ok := channelsMaps.ChannelsInv[channelIDOrName]; ok {
		return channelID, nil
	}

	logger.Debug("Channel not found in cache, forcing refresh", zap.String("channel", channelIDOrName))
	if err := apiProvider.ForceRefreshChannels(ctx); err != nil {
		logger.Warn("Failed to refresh channels cache", zap.Error(err))
		return "", fmt.Errorf("channel %q not found in synced cache", channelIDOrName)
	}

	channelsMaps = apiProvider.ProvideChannelsMaps()
	if channelID, ok := channelsMaps.ChannelsInv[channelIDOrName]; ok {
		return channelID, nil
	}

	logger.Error("Channel not found in synced cache", zap.String("channel", channelIDOrName))
	return "", fmt.Errorf("channel %q not found in synced cache. Try to remove old cache file and restart MCP Server", channelIDOrName)
}
