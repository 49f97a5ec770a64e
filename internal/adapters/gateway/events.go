package gateway

import (
	"encoding/json"

	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/domain"
)

// frame is the wire envelope in both directions. Outbound ops carry a
// nonce; the gateway echoes it on the matching reply.
type frame struct {
	Op    string          `json:"op"`
	Nonce string          `json:"nonce,omitempty"`
	Data  json.RawMessage `json:"d,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Inbound event ops.
const (
	opReady          = "ready"
	opMessage        = "message"
	opReactionAdd    = "reaction_add"
	opReactionRemove = "reaction_remove"
	opReply          = "reply"
)

// Outbound ops.
const (
	opIdentify     = "identify"
	opSend         = "send"
	opEdit         = "edit"
	opReact        = "react"
	opFetchMember  = "fetch_member"
	opFetchMessage = "fetch_message"
)

// ReadyEvent arrives after identify, and again after every reconnect.
type ReadyEvent struct {
	SessionID string            `json:"session_id"`
	Bot       domain.Member     `json:"bot"`
	Servers   []domain.ServerID `json:"servers"`
}

type identifyPayload struct {
	Token string `json:"token"`
}

type sendPayload struct {
	Channel domain.ChannelID `json:"channel_id"`
	Content string           `json:"content"`
	Embed   *core.Embed      `json:"embed,omitempty"`
}

type sendReply struct {
	Message domain.MessageID `json:"message_id"`
}

type editPayload struct {
	Channel domain.ChannelID `json:"channel_id"`
	Message domain.MessageID `json:"message_id"`
	Embed   *core.Embed      `json:"embed"`
}

type reactPayload struct {
	Channel domain.ChannelID `json:"channel_id"`
	Message domain.MessageID `json:"message_id"`
	Emoji   string           `json:"emoji"`
}

type fetchMemberPayload struct {
	Server domain.ServerID `json:"server_id"`
	Member domain.MemberID `json:"member_id"`
}

type fetchMessagePayload struct {
	Channel domain.ChannelID `json:"channel_id"`
	Message domain.MessageID `json:"message_id"`
}
