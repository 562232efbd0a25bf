package handler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
	"github.com/slackfast/slack-fast-mcp/pkg/provider"
)

// stubSlack implements provider.SlackAPI with canned users and channels so
// handler tests can exercise the cache dependent code paths offline.
type stubSlack struct {
	users    []slack.User
	channels []slack.Channel

	history        *slack.GetConversationHistoryResponse
	searchResponse *slack.SearchMessages
}

func (s *stubSlack) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{
		URL:    "https://myteam.slack.com/",
		Team:   "myteam",
		User:   "tester",
		UserID: "U1",
	}, nil
}

func (s *stubSlack) GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error) {
	return s.users, nil
}

func (s *stubSlack) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	return s.channels, "", nil
}

func (s *stubSlack) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	if s.history == nil {
		return nil, errors.New("no history configured")
	}
	return s.history, nil
}

func (s *stubSlack) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	return nil, false, "", errors.New("not implemented")
}

func (s *stubSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	return channelID, "1700000000.000100", nil
}

func (s *stubSlack) MarkConversationContext(ctx context.Context, channel, ts string) error {
	return nil
}

func (s *stubSlack) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	return nil
}

func (s *stubSlack) RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	return nil
}

func (s *stubSlack) GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error) {
	return nil, nil, nil, errors.New("not implemented")
}

func (s *stubSlack) GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error {
	return errors.New("not implemented")
}

func (s *stubSlack) GetBotInfoContext(ctx context.Context, parameters slack.GetBotInfoParameters) (*slack.Bot, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSlack) SearchMessagesContext(ctx context.Context, query string, params slack.SearchParameters) (*slack.SearchMessages, error) {
	if s.searchResponse == nil {
		return nil, errors.New("no search response configured")
	}
	return s.searchResponse, nil
}

func stubUser(id, name, realName string) slack.User {
	u := slack.User{}
	u.ID = id
	u.Name = name
	u.RealName = realName
	return u
}

func stubChannel(id, name string) slack.Channel {
	ch := slack.Channel{}
	ch.ID = id
	ch.Name = name
	return ch
}

func stubIM(id, user string) slack.Channel {
	ch := slack.Channel{}
	ch.ID = id
	ch.IsIM = true
	ch.User = user
	return ch
}

// newTestProvider builds a warmed provider backed by stubSlack with two
// users (alice, bob), one public channel (#general) and one DM with alice.
func newTestProvider(t *testing.T, stub *stubSlack) *provider.ApiProvider {
	t.Helper()

	if stub.users == nil {
		stub.users = []slack.User{
			stubUser("U1", "alice", "Alice Smith"),
			stubUser("U2", "bob", "Bob Jones"),
		}
	}
	if stub.channels == nil {
		stub.channels = []slack.Channel{
			stubChannel("C1", "general"),
			stubIM("D1", "U1"),
		}
	}

	dir := t.TempDir()
	cfg := &config.Config{
		CacheTTL:          time.Hour,
		UsersCachePath:    filepath.Join(dir, "users_cache.json"),
		ChannelsCachePath: filepath.Join(dir, "channels_cache.json"),
	}

	p := provider.NewWithClient(stub, cfg, zap.NewNop())
	_, err := p.Warm(context.Background())
	require.NoError(t, err)

	return p
}
