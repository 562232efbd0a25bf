package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
	"github.com/slackfast/slack-fast-mcp/pkg/limiter"
	"github.com/slackfast/slack-fast-mcp/pkg/text"
)

const cachePageLimit = 200

var (
	ErrUsersNotReady    = errors.New("users cache is not ready yet")
	ErrChannelsNotReady = errors.New("channels cache is not ready yet")
)

// Channel types accepted by the channels_list tool and used for the full
// directory sync.
const (
	PubChanType     = "public_channel"
	PrivateChanType = "private_channel"
	ImChanType      = "im"
	MpimChanType    = "mpim"
)

var AllChanTypes = []string{MpimChanType, ImChanType, PubChanType, PrivateChanType}

// SlackAPI is the subset of the Slack Web API the server talks to. It is
// satisfied by *slack.Client and by fakes in tests.
type SlackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	MarkConversationContext(ctx context.Context, channel, ts string) error
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	GetBotInfoContext(ctx context.Context, parameters slack.GetBotInfoParameters) (*slack.Bot, error)
	SearchMessagesContext(ctx context.Context, query string, params slack.SearchParameters) (*slack.SearchMessages, error)
}

// UsersCache holds the user directory plus the name→ID reverse map. A value
// is built once and then swapped in atomically, so readers may hold on to it
// without locking.
type UsersCache struct {
	Users    map[string]slack.User
	UsersInv map[string]string
}

// Channel is the cached view of a conversation. The JSON tags define the
// disk snapshot format.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Topic       string `json:"topic"`
	Purpose     string `json:"purpose"`
	MemberCount int    `json:"member_count"`
	IsIM        bool   `json:"is_im"`
	IsMpIM      bool   `json:"is_mpim"`
	IsPrivate   bool   `json:"is_private"`
	User        string `json:"user"`
}

// ChannelsCache holds the channel directory plus the display-name→ID
// reverse map ("#general", "@alice").
type ChannelsCache struct {
	Channels    map[string]Channel
	ChannelsInv map[string]string
}

// ApiProvider owns the Slack client and the user/channel directory caches.
type ApiProvider struct {
	client SlackAPI
	config *config.Config
	logger *zap.Logger

	rateLimiter  *rate.Limiter
	refreshGroup singleflight.Group

	mu        sync.RWMutex
	users     *UsersCache
	channels  *ChannelsCache
	authResp  *slack.AuthTestResponse
	workspace string
}

// New builds an ApiProvider with a real slack-go client for the configured
// auth mode.
func New(cfg *config.Config, logger *zap.Logger) (*ApiProvider, error) {
	client, err := newSlackClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient builds an ApiProvider around an existing SlackAPI
// implementation. Used by tests.
func NewWithClient(client SlackAPI, cfg *config.Config, logger *zap.Logger) *ApiProvider {
	return &ApiProvider{
		client:      client,
		config:      cfg,
		logger:      logger,
		rateLimiter: limiter.Tier2.Limiter(),
	}
}

// Slack exposes the underlying API client to the tool handlers.
func (p *ApiProvider) Slack() SlackAPI {
	return p.client
}

func (p *ApiProvider) Config() *config.Config {
	return p.config
}

func (p *ApiProvider) IsBotToken() bool {
	return p.config.IsBotToken
}

// AuthTest verifies credentials once and caches the response.
func (p *ApiProvider) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	p.mu.RLock()
	cached := p.authResp
	p.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	resp, err := p.client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth test failed: %w", err)
	}

	ws, err := text.Workspace(resp.URL)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.authResp = resp
	p.workspace = ws
	p.mu.Unlock()

	return resp, nil
}

// Workspace returns the workspace name derived from the auth-test URL.
// AuthTest must have succeeded first.
func (p *ApiProvider) Workspace() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workspace
}

// IsReady reports whether both directory caches have been installed. The
// returned error names the missing cache.
func (p *ApiProvider) IsReady() (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.users == nil {
		return false, ErrUsersNotReady
	}
	if p.channels == nil {
		return false, ErrChannelsNotReady
	}
	return true, nil
}

// ProvideUsersMap returns the current users cache snapshot. May be nil before
// the first successful refresh.
func (p *ApiProvider) ProvideUsersMap() *UsersCache {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.users
}

// ProvideChannelsMaps returns the current channels cache snapshot. May be nil
// before the first successful refresh.
func (p *ApiProvider) ProvideChannelsMaps() *ChannelsCache {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channels
}

// Warm fills both caches, users first since channel display names depend on
// them. It returns true when a stale disk snapshot was installed and the
// caller should schedule a forced refresh in the background.
func (p *ApiProvider) Warm(ctx context.Context) (bool, error) {
	usersStale, err := p.RefreshUsers(ctx, false)
	if err != nil {
		return false, err
	}
	channelsStale, err := p.RefreshChannels(ctx, false)
	if err != nil {
		return false, err
	}
	return usersStale || channelsStale, nil
}

// ForceRefresh re-syncs both caches from the API, bypassing disk snapshots.
func (p *ApiProvider) ForceRefresh(ctx context.Context) error {
	if _, err := p.RefreshUsers(ctx, true); err != nil {
		return err
	}
	_, err := p.RefreshChannels(ctx, true)
	return err
}

// ForceRefreshChannels re-syncs only the channels cache, used when a channel
// name lookup misses and the cache may simply be outdated.
func (p *ApiProvider) ForceRefreshChannels(ctx context.Context) error {
	_, err := p.RefreshChannels(ctx, true)
	return err
}

// RefreshUsers installs the users cache, from disk when a usable snapshot
// exists and from the API otherwise. The returned bool reports that a stale
// snapshot was used.
func (p *ApiProvider) RefreshUsers(ctx context.Context, force bool) (bool, error) {
	if !force {
		if cache, stale, ok := p.loadUsersSnapshot(); ok {
			p.installUsers(cache)
			p.logger.Info("Users cache loaded from disk",
				zap.Int("users", len(cache.Users)),
				zap.Bool("stale", stale))
			return stale, nil
		}
	}

	_, err, _ := p.refreshGroup.Do("users", func() (interface{}, error) {
		return nil, p.fetchUsers(ctx)
	})
	return false, err
}

func (p *ApiProvider) fetchUsers(ctx context.Context) error {
	p.logger.Info("Fetching users from Slack API")

	users, err := limiter.Do(ctx, p.rateLimiter, 3, slackRetryAfter, func() ([]slack.User, error) {
		return p.client.GetUsersContext(ctx, slack.GetUsersOptionLimit(cachePageLimit))
	})
	if err != nil {
		return fmt.Errorf("fetching users: %w", err)
	}

	cache := buildUsersCache(users)
	p.installUsers(cache)
	p.saveUsersSnapshot(users)
	p.logger.Info("Users cache refreshed", zap.Int("users", len(cache.Users)))
	return nil
}

// RefreshChannels installs the channels cache, analogous to RefreshUsers.
func (p *ApiProvider) RefreshChannels(ctx context.Context, force bool) (bool, error) {
	if !force {
		if cache, stale, ok := p.loadChannelsSnapshot(); ok {
			p.installChannels(cache)
			p.logger.Info("Channels cache loaded from disk",
				zap.Int("channels", len(cache.Channels)),
				zap.Bool("stale", stale))
			return stale, nil
		}
	}

	_, err, _ := p.refreshGroup.Do("channels", func() (interface{}, error) {
		return nil, p.fetchChannels(ctx)
	})
	return false, err
}

func (p *ApiProvider) fetchChannels(ctx context.Context) error {
	p.logger.Info("Fetching channels from Slack API")

	var all []slack.Channel
	params := &slack.GetConversationsParameters{
		Types: AllChanTypes,
		Limit: cachePageLimit,
	}
	for {
		type page struct {
			channels []slack.Channel
			cursor   string
		}
		pg, err := limiter.Do(ctx, p.rateLimiter, 3, slackRetryAfter, func() (page, error) {
			channels, next, err := p.client.GetConversationsContext(ctx, params)
			return page{channels, next}, err
		})
		if err != nil {
			return fmt.Errorf("fetching channels: %w", err)
		}

		all = append(all, pg.channels...)
		if pg.cursor == "" {
			break
		}
		params.Cursor = pg.cursor
	}

	cache := p.buildChannelsCache(all)
	p.installChannels(cache)
	p.saveChannelsSnapshot(cache)
	p.logger.Info("Channels cache refreshed", zap.Int("channels", len(cache.Channels)))
	return nil
}

func (p *ApiProvider) installUsers(cache *UsersCache) {
	p.mu.Lock()
	p.users = cache
	p.mu.Unlock()
}

func (p *ApiProvider) installChannels(cache *ChannelsCache) {
	p.mu.Lock()
	p.channels = cache
	p.mu.Unlock()
}

func buildUsersCache(users []slack.User) *UsersCache {
	cache := &UsersCache{
		Users:    make(map[string]slack.User, len(users)),
		UsersInv: make(map[string]string, len(users)),
	}
	for _, u := range users {
		cache.Users[u.ID] = u
		if u.Name != "" {
			cache.UsersInv[u.Name] = u.ID
		}
	}
	return cache
}

func (p *ApiProvider) buildChannelsCache(channels []slack.Channel) *ChannelsCache {
	users := p.ProvideUsersMap()

	cache := &ChannelsCache{
		Channels:    make(map[string]Channel, len(channels)),
		ChannelsInv: make(map[string]string, len(channels)),
	}
	for _, ch := range channels {
		cached := Channel{
			ID:          ch.ID,
			Name:        mapChannelName(ch, users),
			Topic:       ch.Topic.Value,
			Purpose:     ch.Purpose.Value,
			MemberCount: ch.NumMembers,
			IsIM:        ch.IsIM,
			IsMpIM:      ch.IsMpIM,
			IsPrivate:   ch.IsPrivate,
			User:        ch.User,
		}
		cache.Channels[cached.ID] = cached
		if cached.Name != "" {
			cache.ChannelsInv[cached.Name] = cached.ID
		}
	}
	return cache
}

// mapChannelName derives the display name used for lookups: DMs become
// "@username" (falling back to the raw user ID), group DMs keep their raw
// name behind "@", everything else gets the "#" prefix.
func mapChannelName(ch slack.Channel, users *UsersCache) string {
	if ch.IsIM {
		if users != nil {
			if u, ok := users.Users[ch.User]; ok && u.Name != "" {
				return "@" + u.Name
			}
		}
		return "@" + ch.User
	}
	if ch.IsMpIM {
		return "@" + ch.Name
	}
	if ch.Name != "" {
		return "#" + ch.Name
	}
	return ""
}

func slackRetryAfter(err error) time.Duration {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// loadUsersSnapshot reads the users snapshot from disk. ok is false when the
// path is unset, the file is missing or unreadable, or it cannot be parsed;
// stale reports that the snapshot outlived the TTL (a zero TTL never
// expires).
func (p *ApiProvider) loadUsersSnapshot() (cache *UsersCache, stale bool, ok bool) {
	path := p.config.UsersCachePath
	if path == "" {
		return nil, false, false
	}

	data, age, err := readSnapshot(path)
	if err != nil {
		return nil, false, false
	}

	var users []slack.User
	if err := json.Unmarshal(data, &users); err != nil {
		p.logger.Warn("Ignoring unreadable users snapshot", zap.String("path", path), zap.Error(err))
		return nil, false, false
	}

	return buildUsersCache(users), p.isStale(age), true
}

func (p *ApiProvider) loadChannelsSnapshot() (cache *ChannelsCache, stale bool, ok bool) {
	path := p.config.ChannelsCachePath
	if path == "" {
		return nil, false, false
	}

	data, age, err := readSnapshot(path)
	if err != nil {
		return nil, false, false
	}

	var channels []Channel
	if err := json.Unmarshal(data, &channels); err != nil {
		p.logger.Warn("Ignoring unreadable channels snapshot", zap.String("path", path), zap.Error(err))
		return nil, false, false
	}

	out := &ChannelsCache{
		Channels:    make(map[string]Channel, len(channels)),
		ChannelsInv: make(map[string]string, len(channels)),
	}
	for _, ch := range channels {
		out.Channels[ch.ID] = ch
		if ch.Name != "" {
			out.ChannelsInv[ch.Name] = ch.ID
		}
	}
	return out, p.isStale(age), true
}

func (p *ApiProvider) isStale(age time.Duration) bool {
	return p.config.CacheTTL > 0 && age > p.config.CacheTTL
}

func readSnapshot(path string) ([]byte, time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return data, time.Since(info.ModTime()), nil
}

func (p *ApiProvider) saveUsersSnapshot(users []slack.User) {
	p.writeSnapshot(p.config.UsersCachePath, users)
}

func (p *ApiProvider) saveChannelsSnapshot(cache *ChannelsCache) {
	channels := make([]Channel, 0, len(cache.Channels))
	for _, ch := range cache.Channels {
		channels = append(channels, ch)
	}
	p.writeSnapshot(p.config.ChannelsCachePath, channels)
}

// writeSnapshot persists a snapshot best-effort: failures are logged, never
// fatal. The write goes through a uniquely named temp file and a rename so a
// concurrent reader never sees a half-written file.
func (p *ApiProvider) writeSnapshot(path string, v interface{}) {
	if path == "" {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("Failed to encode cache snapshot", zap.String("path", path), zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		p.logger.Warn("Failed to create cache directory", zap.String("path", path), zap.Error(err))
		return
	}

	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		p.logger.Warn("Failed to write cache snapshot", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		p.logger.Warn("Failed to install cache snapshot", zap.String("path", path), zap.Error(err))
	}
}
