package slack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"zapask/internal/timeutil"
)

const (
	historyPageSize = 500
	repliesPageSize = 200
)

// Client wraps the Slack Web API for one workspace.
type Client struct {
	api *slack.Client
}

func NewClient(botToken string, options ...slack.Option) *Client {
	return &Client{api: slack.New(botToken, options...)}
}

// ClientFactory builds a Client per bot token. Options apply to every client.
type ClientFactory struct {
	options []slack.Option
}

func NewClientFactory(options ...slack.Option) *ClientFactory {
	return &ClientFactory{options: options}
}

func (f *ClientFactory) ForToken(botToken string) *Client {
	return NewClient(botToken, f.options...)
}

// ChannelHistory pages through root messages newer than oldest. The result
// is in the order Slack returns it (newest first).
func (c *Client) ChannelHistory(ctx context.Context, channelID, oldest string) ([]Message, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     historyPageSize,
	}
	if oldest != "" && oldest != "0" {
		params.Oldest = oldest
	}

	var all []Message
	for {
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to get channel history: %w", err)
		}
		all = append(all, convertMessages(resp.Messages)...)

		if resp.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}

	slog.Debug("Fetched channel history", "channel", channelID, "count", len(all))
	return all, nil
}

// ThreadReplies pages through a thread. Only replies strictly newer than
// oldest are returned, and thread broadcasts are skipped. replyCount is the
// total Slack reports on the thread root.
func (c *Client) ThreadReplies(ctx context.Context, channelID, threadTS, oldest string) (replies []Message, replyCount int, err error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Limit:     repliesPageSize,
	}
	if oldest != "" {
		params.Oldest = oldest
	}

	rootSeen := false
	for {
		msgs, hasMore, nextCursor, err := c.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to get replies for thread %s: %w", threadTS, err)
		}

		for _, raw := range msgs {
			m := convertMessage(raw)
			if m.TS == threadTS {
				if !rootSeen {
					replyCount = m.ReplyCount
					rootSeen = true
				}
				continue
			}
			if m.SubType == "thread_broadcast" {
				continue
			}
			if oldest != "" && !timeutil.AfterTS(m.TS, oldest) {
				continue
			}
			replies = append(replies, m)
		}

		if !hasMore || nextCursor == "" {
			break
		}
		params.Cursor = nextCursor
	}

	return replies, replyCount, nil
}

// UserTimezone returns the IANA zone from the user's profile.
func (c *Client) UserTimezone(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user info: %w", err)
	}
	if user.TZ == "" {
		return "", fmt.Errorf("user %s has no timezone", userID)
	}
	return user.TZ, nil
}

// DownloadFile fetches a private file URL with the bot token.
func (c *Client) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	return buf.Bytes(), nil
}
