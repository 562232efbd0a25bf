package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/provider"
	"github.com/slackfast/slack-fast-mcp/pkg/text"
)

type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Topic       string `json:"topic"`
	Purpose     string `json:"purpose"`
	MemberCount int    `json:"memberCount"`
	Cursor      string `json:"cursor,omitempty"`
}

type ChannelsHandler struct {
	apiProvider *provider.ApiProvider
	validTypes  map[string]bool
	logger      *zap.Logger
}

func NewChannelsHandler(apiProvider *provider.ApiProvider, logger *zap.Logger) *ChannelsHandler {
	validTypes := make(map[string]bool, len(provider.AllChanTypes))
	for _, v := range provider.AllChanTypes {
		validTypes[v] = true
	}

	return &ChannelsHandler{
		apiProvider: apiProvider,
		validTypes:  validTypes,
		logger:      logger,
	}
}

func (ch *ChannelsHandler) ChannelsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	ch.logger.Debug("ChannelsResource called", zap.Any("params", request.Params))

	if ready, err := ch.apiProvider.IsReady(); !ready {
		ch.logger.Error("API provider not ready", zap.Error(err))
		return nil, err
	}

	if _, err := ch.apiProvider.AuthTest(ctx); err != nil {
		ch.logger.Error("Auth test failed", zap.Error(err))
		return nil, err
	}
	ws := ch.apiProvider.Workspace()

	channels := ch.apiProvider.ProvideChannelsMaps().Channels
	ch.logger.Debug("Retrieved channels from provider", zap.Int("count", len(channels)))

	channelList := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		channelList = append(channelList, convertChannel(channel))
	}
	sort.Slice(channelList, func(i, j int) bool {
		return channelList[i].ID < channelList[j].ID
	})

	jsonBytes, err := json.Marshal(channelList)
	if err != nil {
		ch.logger.Error("Failed to marshal channels to JSON", zap.Error(err))
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "slack://" + ws + "/channels",
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}

func (ch *ChannelsHandler) ChannelsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ch.logger.Debug("ChannelsHandler called")

	if ready, err := ch.apiProvider.IsReady(); !ready {
		ch.logger.Error("API provider not ready", zap.Error(err))
		return nil, err
	}

	sortType := request.GetString("sort", "popularity")
	types := request.GetString("channel_types", "")
	cursor := request.GetString("cursor", "")
	limit := request.GetInt("limit", 0)

	ch.logger.Debug("Request parameters",
		zap.String("sort", sortType),
		zap.String("channel_types", types),
		zap.String("cursor", cursor),
		zap.Int("limit", limit),
	)

	channelTypes := []string{}
	for _, t := range strings.Split(types, ",") {
		t = strings.TrimSpace(t)
		if ch.validTypes[t] {
			channelTypes = append(channelTypes, t)
		} else if t != "" {
			ch.logger.Warn("Invalid channel type ignored", zap.String("type", t))
		}
	}

	if len(channelTypes) == 0 {
		ch.logger.Debug("No valid channel types provided, using defaults")
		channelTypes = append(channelTypes, provider.PubChanType, provider.PrivateChanType)
	}

	if limit <= 0 {
		limit = 100
	}
	if limit > 999 {
		ch.logger.Warn("Limit exceeds maximum, capping to 999", zap.Int("requested", limit))
		limit = 999
	}

	allChannels := ch.apiProvider.ProvideChannelsMaps().Channels
	channels := filterChannelsByTypes(allChannels, channelTypes)

	chans, nextcur := paginateChannels(channels, cursor, limit)

	ch.logger.Debug("Pagination results",
		zap.Int("returned_count", len(chans)),
		zap.Bool("has_next_page", nextcur != ""),
	)

	channelList := make([]Channel, 0, len(chans))
	for _, channel := range chans {
		channelList = append(channelList, convertChannel(channel))
	}

	if sortType == "popularity" {
		sort.Slice(channelList, func(i, j int) bool {
			return channelList[i].MemberCount > channelList[j].MemberCount
		})
	}

	if len(channelList) > 0 && nextcur != "" {
		channelList[len(channelList)-1].Cursor = nextcur
	}

	jsonBytes, err := json.Marshal(channelList)
	if err != nil {
		ch.logger.Error("Failed to marshal channels to JSON", zap.Error(err))
		return nil, err
	}

	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func convertChannel(channel provider.Channel) Channel {
	return Channel{
		ID:          channel.ID,
		Name:        channel.Name,
		Topic:       text.WrapSlackContent(channel.Topic),
		Purpose:     text.WrapSlackContent(channel.Purpose),
		MemberCount: channel.MemberCount,
	}
}

func filterChannelsByTypes(channels map[string]provider.Channel, types []string) []provider.Channel {
	var result []provider.Channel
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	for _, ch := range channels {
		switch {
		case ch.IsIM:
			if typeSet[provider.ImChanType] {
				result = append(result, ch)
			}
		case ch.IsMpIM:
			if typeSet[provider.MpimChanType] {
				result = append(result, ch)
			}
		case ch.IsPrivate:
			if typeSet[provider.PrivateChanType] {
				result = append(result, ch)
			}
		default:
			if typeSet[provider.PubChanType] {
				result = append(result, ch)
			}
		}
	}

	return result
}

// paginateChannels slices the channel list into stable pages. Channels are
// ordered by ID and the cursor is the base64 encoded ID of the last channel
// on the previous page.
func paginateChannels(channels []provider.Channel, cursor string, limit int) ([]provider.Channel, string) {
	logger := zap.L()

	if limit <= 0 {
		limit = 100
	}

	sort.Slice(channels, func(i, j int) bool {
		return channels[i].ID < channels[j].ID
	})

	startIndex := 0
	if cursor != "" {
		if decoded, err := base64.StdEncoding.DecodeString(cursor); err == nil {
			lastID := string(decoded)
			for i, ch := range channels {
				if ch.ID > lastID {
					startIndex = i
					break
				}
			}
		} else {
			logger.Warn("Failed to decode cursor",
				zap.String("cursor", cursor),
				zap.Error(err),
			)
		}
	}

	endIndex := startIndex + limit
	if endIndex > len(channels) {
		endIndex = len(channels)
	}

	paged := channels[startIndex:endIndex]

	var nextCursor string
	if endIndex < len(channels) {
		nextCursor = base64.StdEncoding.EncodeToString([]byte(channels[endIndex-1].ID))
	}

	return paged, nextCursor
}
