package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/provider"
	"github.com/slackfast/slack-fast-mcp/pkg/text"
)

const (
	defaultUsersSearchLimit = 10
	maxUsersSearchLimit     = 100
)

type UserInfo struct {
	UserID   string `json:"userID"`
	UserName string `json:"userName"`
	RealName string `json:"realName"`
}

type UserSearchResult struct {
	UserID      string `json:"userID"`
	UserName    string `json:"userName"`
	RealName    string `json:"realName"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	Title       string `json:"title,omitempty"`
	DMChannelID string `json:"dmChannelID,omitempty"`
}

type UsersHandler struct {
	apiProvider *provider.ApiProvider
	logger      *zap.Logger
}

func NewUsersHandler(apiProvider *provider.ApiProvider, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		apiProvider: apiProvider,
		logger:      logger,
	}
}

func (uh *UsersHandler) UsersResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uh.logger.Debug("UsersResource called", zap.Any("params", request.Params))

	if ready, err := uh.apiProvider.IsReady(); !ready {
		uh.logger.Error("API provider not ready", zap.Error(err))
		return nil, err
	}

	if _, err := uh.apiProvider.AuthTest(ctx); err != nil {
		uh.logger.Error("Auth test failed", zap.Error(err))
		return nil, err
	}
	ws := uh.apiProvider.Workspace()

	usersMap := uh.apiProvider.ProvideUsersMap()
	uh.logger.Debug("Retrieved users from provider", zap.Int("count", len(usersMap.Users)))

	userList := make([]UserInfo, 0, len(usersMap.Users))
	for _, user := range usersMap.Users {
		userList = append(userList, UserInfo{
			UserID:   user.ID,
			UserName: text.WrapSlackContent(user.Name),
			RealName: text.WrapSlackContent(user.RealName),
		})
	}
	sort.Slice(userList, func(i, j int) bool {
		return userList[i].UserID < userList[j].UserID
	})

	jsonBytes, err := json.Marshal(userList)
	if err != nil {
		uh.logger.Error("Failed to marshal users to JSON", zap.Error(err))
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "slack://" + ws + "/users",
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}

// UsersSearchHandler matches workspace users against a case insensitive
// substring query over handle, real name, display name and email. Matching
// runs entirely on the users cache, no API calls involved.
func (uh *UsersHandler) UsersSearchHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uh.logger.Debug("UsersSearchHandler called", zap.Any("params", request.Params))

	if ready, err := uh.apiProvider.IsReady(); !ready {
		uh.logger.Error("API provider not ready", zap.Error(err))
		return nil, err
	}

	query := request.GetString("query", "")
	if query == "" {
		return nil, errors.New("query must be a string")
	}

	limit := request.GetInt("limit", defaultUsersSearchLimit)
	if limit < 1 {
		limit = defaultUsersSearchLimit
	}
	if limit > maxUsersSearchLimit {
		limit = maxUsersSearchLimit
	}

	needle := strings.ToLower(query)
	usersMap := uh.apiProvider.ProvideUsersMap()
	dmChannels := uh.dmChannelsByUser()

	// Stable iteration order so paging-free truncation is deterministic.
	ids := make([]string, 0, len(usersMap.Users))
	for id := range usersMap.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []UserSearchResult
	for _, id := range ids {
		user := usersMap.Users[id]
		if user.Deleted {
			continue
		}
		if !userMatches(&user.Profile, user.Name, user.RealName, needle) {
			continue
		}

		results = append(results, UserSearchResult{
			UserID:      user.ID,
			UserName:    text.WrapSlackContent(user.Name),
			RealName:    text.WrapSlackContent(user.RealName),
			DisplayName: text.WrapSlackContent(user.Profile.DisplayName),
			Email:       user.Profile.Email,
			Title:       user.Profile.Title,
			DMChannelID: dmChannels[user.ID],
		})
		if len(results) >= limit {
			break
		}
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No users found matching the query."), nil
	}

	jsonBytes, err := json.Marshal(results)
	if err != nil {
		uh.logger.Error("Failed to marshal user search results", zap.Error(err))
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (uh *UsersHandler) dmChannelsByUser() map[string]string {
	channelsMaps := uh.apiProvider.ProvideChannelsMaps()
	dms := make(map[string]string)
	for _, ch := range channelsMaps.Channels {
		if ch.IsIM && ch.User != "" {
			dms[ch.User] = ch.ID
		}
	}
	return dms
}

func userMatches(profile *slack.UserProfile, name, realName, needle string) bool {
	for _, candidate := range []string{name, realName, profile.DisplayName, profile.Email} {
		if candidate != "" && strings.Contains(strings.ToLower(candidate), needle) {
			return true
		}
	}
	return false
}
