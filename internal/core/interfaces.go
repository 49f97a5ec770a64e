package core

import (
	"context"

	"github.com/torvand/bellhop/internal/domain"
)

// Store is the durable subscription registry. Updates are transactional
// per server: the store serializes load-mutate-save for one server id so
// concurrent commands cannot lose each other's writes.
type Store interface {
	// View runs fn against a read-only snapshot of the whole document.
	View(ctx context.Context, fn func(domain.Document) error) error
	// Update runs fn against a mutable copy of one server's subscriptions
	// and persists the result iff fn returns nil.
	Update(ctx context.Context, server domain.ServerID, fn func(domain.ServerSubs) error) error
	// EnsureServers seeds an empty entry for every listed server.
	// Idempotent; safe to re-run on every reconnect.
	EnsureServers(ctx context.Context, servers []domain.ServerID) error
}

// MemberDirectory resolves member ids to member objects. Resolution may
// hit the network; implementations carry their own timeout.
type MemberDirectory interface {
	Member(ctx context.Context, server domain.ServerID, id domain.MemberID) (*domain.Member, error)
}

// Chat is the outbound messaging surface of the platform gateway.
// Owned by the adapter; services never touch the transport directly.
type Chat interface {
	MemberDirectory

	Send(ctx context.Context, channel domain.ChannelID, content string, embed *Embed) (domain.MessageID, error)
	EditEmbed(ctx context.Context, channel domain.ChannelID, message domain.MessageID, embed *Embed) error
	React(ctx context.Context, channel domain.ChannelID, message domain.MessageID, emoji string) error

	// FetchMessage re-reads a message as it currently renders. Reaction
	// events carry a snapshot taken when the reaction happened, which may
	// be stale by the time it is processed.
	FetchMessage(ctx context.Context, channel domain.ChannelID, message domain.MessageID) (*Message, error)

	// BotID is the gateway's own member id, used to ignore self-events.
	BotID() domain.MemberID
}

// Mention renders the platform's inline mention markup for a member id.
func Mention(id domain.MemberID) string {
	return "<@" + string(id) + ">"
}
