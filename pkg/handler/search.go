package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/provider"
	"github.com/slackfast/slack-fast-mcp/pkg/text"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

var validFilterKeys = map[string]struct{}{
	"is":     {},
	"in":     {},
	"from":   {},
	"with":   {},
	"before": {},
	"after":  {},
	"on":     {},
	"during": {},
}

// Canonical ordering for filters appended after the free text part of a
// search query.
var filterKeyOrder = []string{"is", "in", "from", "with", "before", "after", "on", "during"}

var daysAgoRe = regexp.MustCompile(`^(\d+)\s+days?\s+ago$`)

type searchParams struct {
	query string
	limit int
	page  int
}

type SearchHandler struct {
	apiProvider *provider.ApiProvider
	logger      *zap.Logger
}

func NewSearchHandler(apiProvider *provider.ApiProvider, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		apiProvider: apiProvider,
		logger:      logger,
	}
}

func (sh *SearchHandler) ConversationsSearchHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sh.logger.Debug("ConversationsSearchHandler called", zap.Any("params", request.Params))

	if sh.apiProvider.IsBotToken() {
		return nil, errors.New(
			"search.messages is not available with bot tokens (xoxb)." +
				" Use a user token (xoxp) or browser session token (xoxc/xoxd) to enable search",
		)
	}

	if ready, err := sh.apiProvider.IsReady(); !ready {
		sh.logger.Error("API provider not ready", zap.Error(err))
		return nil, err
	}

	params, err := sh.parseParamsToolSearch(request)
	if err != nil {
		sh.logger.Error("Failed to parse search params", zap.Error(err))
		return nil, err
	}

	sh.logger.Debug("Executing search",
		zap.String("query", params.query),
		zap.Int("limit", params.limit),
		zap.Int("page", params.page),
	)

	searchResult, err := sh.apiProvider.Slack().SearchMessagesContext(ctx, params.query, slack.SearchParameters{
		Sort:          slack.DEFAULT_SEARCH_SORT,
		SortDirection: slack.DEFAULT_SEARCH_SORT_DIR,
		Highlight:     false,
		Count:         params.limit,
		Page:          params.page,
	})
	if err != nil {
		sh.logger.Error("Search request failed", zap.Error(err))
		return nil, err
	}

	messages := sh.convertMessagesFromSearch(searchResult.Matches)

	if len(messages) > 0 && searchResult.Pagination.Page < searchResult.Pagination.PageCount {
		next := fmt.Sprintf("page:%d", searchResult.Pagination.Page+1)
		messages[len(messages)-1].Cursor = base64.StdEncoding.EncodeToString([]byte(next))
	}

	return marshalMessagesToJSON(messages)
}

func (sh *SearchHandler) parseParamsToolSearch(request mcp.CallToolRequest) (*searchParams, error) {
	query := request.GetString("search_query", "")
	threadsOnly := request.GetBool("filter_threads_only", false)

	limit := request.GetInt("limit", defaultSearchLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	page := 1
	if cursor := request.GetString("cursor", ""); cursor != "" {
		decoded, err := base64.StdEncoding.DecodeString(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		raw, ok := strings.CutPrefix(string(decoded), "page:")
		if !ok {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	freeText, filters := splitQuery(query)

	if threadsOnly {
		addFilter(filters, "is", "thread")
	}

	usersMap := sh.apiProvider.ProvideUsersMap()
	channelsMaps := sh.apiProvider.ProvideChannelsMaps()

	// A channel filter takes precedence over an IM/MPIM filter; both target
	// the same "in" key.
	if channel := request.GetString("filter_in_channel", ""); channel != "" {
		formatted, err := paramFormatChannel(channelsMaps, channel)
		if err != nil {
			return nil, err
		}
		addFilter(filters, "in", formatted)
	} else if user := request.GetString("filter_in_im_or_mpim", ""); user != "" {
		formatted, err := paramFormatUser(usersMap, user)
		if err != nil {
			return nil, err
		}
		addFilter(filters, "in", formatted)
	}
	if user := request.GetString("filter_users_with", ""); user != "" {
		formatted, err := paramFormatUser(usersMap, user)
		if err != nil {
			return nil, err
		}
		addFilter(filters, "with", formatted)
	}
	if user := request.GetString("filter_users_from", ""); user != "" {
		formatted, err := paramFormatUser(usersMap, user)
		if err != nil {
			return nil, err
		}
		addFilter(filters, "from", formatted)
	}

	err := buildDateFilters(filters,
		request.GetString("filter_date_before", ""),
		request.GetString("filter_date_after", ""),
		request.GetString("filter_date_on", ""),
		request.GetString("filter_date_during", ""),
	)
	if err != nil {
		return nil, err
	}

	finalQuery := buildQuery(freeText, filters)
	if finalQuery == "" {
		return nil, errors.New("search_query or at least one filter must be provided")
	}

	return &searchParams{
		query: finalQuery,
		limit: limit,
		page:  page,
	}, nil
}

func (sh *SearchHandler) convertMessagesFromSearch(matches []slack.SearchMessage) []Message {
	usersMap := sh.apiProvider.ProvideUsersMap()
	converted := make([]Message, 0, len(matches))

	for _, match := range matches {
		timeStr, err := text.TimestampToRFC3339(match.Timestamp)
		if err != nil {
			sh.logger.Warn("Skipping search match with malformed timestamp",
				zap.String("ts", match.Timestamp),
				zap.Error(err),
			)
			continue
		}

		userName := match.Username
		realName := ""
		if user, ok := usersMap.Users[match.User]; ok {
			userName = user.Name
			realName = user.RealName
		}

		channelName := ""
		if match.Channel.Name != "" {
			channelName = "#" + match.Channel.Name
		}

		body := match.Text
		body += text.AttachmentsToText(body, match.Attachments)
		body += text.MessageBlocksToText(match.Blocks)

		converted = append(converted, Message{
			MsgID:    match.Timestamp,
			UserID:   match.User,
			UserName: text.WrapSlackContent(userName),
			RealName: text.WrapSlackContent(realName),
			Channel:  channelName,
			ThreadTs: extractThreadTS(match.Permalink),
			Text:     text.WrapSlackContent(text.ProcessText(body)),
			Time:     timeStr,
		})
	}

	return converted
}

// extractThreadTS pulls the thread_ts query parameter out of a message
// permalink. Search matches carry thread membership only there.
func extractThreadTS(permalink string) string {
	u, err := url.Parse(permalink)
	if err != nil {
		return ""
	}
	return u.Query().Get("thread_ts")
}

// splitQuery separates free text from inline "key:value" filters, keeping
// only recognized filter keys. Unknown keys stay in the free text as-is.
// A key may carry several values; they are kept deduplicated in insertion
// order.
func splitQuery(query string) ([]string, map[string][]string) {
	filters := make(map[string][]string)
	var freeText []string

	for _, token := range strings.Fields(query) {
		parts := strings.SplitN(token, ":", 2)
		if len(parts) == 2 && parts[1] != "" && isFilterKey(strings.ToLower(parts[0])) {
			addFilter(filters, strings.ToLower(parts[0]), parts[1])
			continue
		}
		freeText = append(freeText, token)
	}

	return freeText, filters
}

func isFilterKey(key string) bool {
	_, ok := validFilterKeys[key]
	return ok
}

// addFilter appends a filter value unless the key already carries it.
func addFilter(filters map[string][]string, key, value string) {
	if slices.Contains(filters[key], value) {
		return
	}
	filters[key] = append(filters[key], value)
}

func buildQuery(freeText []string, filters map[string][]string) string {
	parts := append([]string{}, freeText...)
	for _, key := range filterKeyOrder {
		for _, value := range filters[key] {
			if value != "" {
				parts = append(parts, key+":"+value)
			}
		}
	}
	return strings.Join(parts, " ")
}

func buildDateFilters(filters map[string][]string, before, after, on, during string) error {
	if on != "" && (before != "" || after != "" || during != "") {
		return errors.New("filter_date_on cannot be combined with other date filters")
	}
	if during != "" && (before != "" || after != "") {
		return errors.New("filter_date_during cannot be combined with before/after date filters")
	}

	if on != "" {
		t, err := parseFlexibleDate(on)
		if err != nil {
			return err
		}
		addFilter(filters, "on", t.Format("2006-01-02"))
		return nil
	}

	if during != "" {
		t, err := parseFlexibleDate(during)
		if err != nil {
			return err
		}
		addFilter(filters, "during", t.Format("2006-01-02"))
		return nil
	}

	var beforeT, afterT time.Time
	if before != "" {
		t, err := parseFlexibleDate(before)
		if err != nil {
			return err
		}
		beforeT = t
		addFilter(filters, "before", t.Format("2006-01-02"))
	}
	if after != "" {
		t, err := parseFlexibleDate(after)
		if err != nil {
			return err
		}
		afterT = t
		addFilter(filters, "after", t.Format("2006-01-02"))
	}
	if before != "" && after != "" && afterT.After(beforeT) {
		return errors.New("filter_date_after must not be later than filter_date_before")
	}

	return nil
}

var flexibleDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01-02-2006",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"Jan-2-2006",
	"2006-Jan-2",
	"2006 January 2",
	"2006 Jan 2",
	"January 2006",
	"Jan 2006",
	"2006 January",
	"2006 Jan",
}

// parseFlexibleDate accepts the date spellings users actually type: ISO
// dates, US forms, textual months with or without commas, month-year forms
// and the relative words today/yesterday/tomorrow plus "N days ago". All
// arithmetic runs in UTC.
func parseFlexibleDate(dateStr string) (time.Time, error) {
	trimmed := strings.TrimSpace(dateStr)
	lower := strings.ToLower(trimmed)

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch lower {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	if m := daysAgoRe.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return today.AddDate(0, 0, -n), nil
		}
	}

	for _, layout := range flexibleDateLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date %q", dateStr)
}

// paramFormatUser turns a user reference (ID, @handle or plain handle) into
// the "<@UID>" form Slack search expects.
func paramFormatUser(usersMap *provider.UsersCache, user string) (string, error) {
	if strings.HasPrefix(user, "U") || strings.HasPrefix(user, "W") {
		if u, ok := usersMap.Users[user]; ok {
			return "<@" + u.ID + ">", nil
		}
	}

	name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(user, "<@"), "@"), ">")
	if id, ok := usersMap.UsersInv[name]; ok {
		return "<@" + id + ">", nil
	}

	return "", fmt.Errorf("user %q not found", user)
}

// paramFormatChannel turns a channel reference ("#name" or ID) into the
// canonical un-prefixed name Slack search expects.
func paramFormatChannel(channelsMaps *provider.ChannelsCache, channel string) (string, error) {
	if strings.HasPrefix(channel, "#") || strings.HasPrefix(channel, "@") {
		if id, ok := channelsMaps.ChannelsInv[channel]; ok {
			return strings.TrimPrefix(channelsMaps.Channels[id].Name, "#"), nil
		}
		return "", fmt.Errorf("channel %q not found", channel)
	}

	if strings.HasPrefix(channel, "C") || strings.HasPrefix(channel, "G") || strings.HasPrefix(channel, "D") {
		if ch, ok := channelsMaps.Channels[channel]; ok {
			return strings.TrimPrefix(ch.Name, "#"), nil
		}
		return "", fmt.Errorf("channel %q not found", channel)
	}

	return "", fmt.Errorf("invalid channel format %q, expected #name or channel ID", channel)
}
