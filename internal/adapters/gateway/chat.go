package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/domain"
)

// Client implements core.Chat on top of the gateway ops.
var _ core.Chat = (*Client)(nil)

func (c *Client) Send(ctx context.Context, channel domain.ChannelID, content string, embed *core.Embed) (domain.MessageID, error) {
	raw, err := c.request(ctx, opSend, sendPayload{Channel: channel, Content: content, Embed: embed})
	if err != nil {
		return "", err
	}
	var rep sendReply
	if err := json.Unmarshal(raw, &rep); err != nil {
		return "", fmt.Errorf("decode send reply: %w", err)
	}
	return rep.Message, nil
}

func (c *Client) EditEmbed(ctx context.Context, channel domain.ChannelID, message domain.MessageID, embed *core.Embed) error {
	_, err := c.request(ctx, opEdit, editPayload{Channel: channel, Message: message, Embed: embed})
	return err
}

func (c *Client) React(ctx context.Context, channel domain.ChannelID, message domain.MessageID, emoji string) error {
	_, err := c.request(ctx, opReact, reactPayload{Channel: channel, Message: message, Emoji: emoji})
	return err
}

func (c *Client) FetchMessage(ctx context.Context, channel domain.ChannelID, message domain.MessageID) (*core.Message, error) {
	raw, err := c.request(ctx, opFetchMessage, fetchMessagePayload{Channel: channel, Message: message})
	if err != nil {
		return nil, err
	}
	var m core.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

func (c *Client) Member(ctx context.Context, server domain.ServerID, id domain.MemberID) (*domain.Member, error) {
	raw, err := c.request(ctx, opFetchMember, fetchMemberPayload{Server: server, Member: id})
	if err != nil {
		return nil, err
	}
	var m domain.Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode member: %w", err)
	}
	return &m, nil
}

func (c *Client) BotID() domain.MemberID {
	if id, ok := c.botID.Load().(domain.MemberID); ok {
		return id
	}
	return ""
}
