package core

import "github.com/torvand/bellhop/internal/domain"

// Message is a read-only view of a chat message as delivered by the
// gateway (no transport fields).
type Message struct {
	ID       domain.MessageID `json:"id"`
	Server   domain.ServerID  `json:"server_id"`
	Channel  domain.ChannelID `json:"channel_id"`
	Author   domain.Member    `json:"author"`
	Content  string           `json:"content"`
	Embeds   []Embed          `json:"embeds,omitempty"`
	Mentions []domain.Member  `json:"mentions,omitempty"`
}

// ReactionEvent is one add/remove of an emoji on a message. The message
// is delivered in full so handlers can reconcile against its current
// rendered state instead of any in-process cache.
type ReactionEvent struct {
	Message Message       `json:"message"`
	Reactor domain.Member `json:"reactor"`
	Emoji   string        `json:"emoji"`
}
