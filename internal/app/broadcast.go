package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/domain"
)

const (
	AttendingField = "Attending"
	ConfirmEmoji   = "✅"
	DeclineEmoji   = "❌"

	// broadcastTitle marks bot messages that carry live roster state.
	// Reaction events on anything else are ignored.
	broadcastTitle = "Calling all"

	attendingDelimiter = ", "
	broadcastColor     = 0xFFFF00
)

// Broadcaster posts "calling all X" announcements and reconciles their
// displayed Attending roster against reaction events. The roster lives
// only in the rendered embed field; every event re-reads it from the
// message, so state survives restarts without any session storage.
type Broadcaster struct {
	store    core.Store
	chat     core.Chat
	prefix   string
	minMatch int

	// one exclusive lock per message so two reactions on the same
	// announcement cannot interleave their read-edit-write. Entries are
	// refcounted and evicted when the last queued reaction finishes.
	mu       sync.Mutex
	inflight map[domain.MessageID]*msgLock
}

type msgLock struct {
	mu   sync.Mutex
	refs int
}

func NewBroadcaster(store core.Store, chat core.Chat, prefix string, minMatch int) *Broadcaster {
	return &Broadcaster{
		store:    store,
		chat:     chat,
		prefix:   prefix,
		minMatch: minMatch,
		inflight: make(map[domain.MessageID]*msgLock),
	}
}

// Announcement reports a successfully opened broadcast.
type Announcement struct {
	Sub     domain.SubName
	Message domain.MessageID
	Members []domain.Member
}

// Announce resolves query fuzzily and, on a single non-empty match,
// posts the mention message with its Attending field seeded with the
// initiator and both reaction affordances attached.
//
// Terminal resolutions come back as errors for the router to report:
// ErrNoMatch, AmbiguousMatchError, EmptySubscriptionError.
func (b *Broadcaster) Announce(ctx context.Context, server domain.ServerID, channel domain.ChannelID, query string, initiator *domain.Member) (*Announcement, error) {
	var name domain.SubName
	var ids []domain.MemberID
	err := b.store.View(ctx, func(doc domain.Document) error {
		res := Match(doc[server], query, b.minMatch)
		if res.None() {
			return domain.ErrNoMatch
		}
		if res.Ambiguous() {
			return &domain.AmbiguousMatchError{Query: query, Candidates: res.Names()}
		}
		name, ids = res.Single()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &domain.EmptySubscriptionError{Name: name}
	}

	members := make([]domain.Member, 0, len(ids))
	for _, id := range ids {
		m, err := b.chat.Member(ctx, server, id)
		if err != nil {
			return nil, fmt.Errorf("resolve member %s: %w", id, err)
		}
		members = append(members, *m)
	}

	var mentions strings.Builder
	mentions.WriteString("||")
	for _, m := range members {
		mentions.WriteString(core.Mention(m.ID))
	}
	mentions.WriteString("||")

	embed := &core.Embed{
		Title: fmt.Sprintf("**Calling all %s members!**", name),
		Description: fmt.Sprintf(
			"If you don't want to be mentioned in this, call `%sunsub %s`. \nNote that unsub is case sensitive!",
			b.prefix, name),
		Color:  broadcastColor,
		Author: core.EmbedAuthor{Name: initiator.DisplayName, IconURL: initiator.AvatarURL},
		Fields: []core.EmbedField{{Name: AttendingField, Value: initiator.DisplayName}},
	}

	msgID, err := b.chat.Send(ctx, channel, mentions.String(), embed)
	if err != nil {
		return nil, fmt.Errorf("post announcement: %w", err)
	}
	for _, emoji := range []string{ConfirmEmoji, DeclineEmoji} {
		if err := b.chat.React(ctx, channel, msgID, emoji); err != nil {
			log.Warn().Err(err).Str("module", "app.broadcast").Str("message", string(msgID)).Msg("seed reaction failed")
		}
	}

	log.Info().Str("module", "app.broadcast").Str("server", string(server)).
		Str("sub", string(name)).Int("members", len(members)).Msg("broadcast opened")
	return &Announcement{Sub: name, Message: msgID, Members: members}, nil
}

// HandleReaction reconciles one reaction event against the message's
// rendered Attending field. Events that do not match the broadcast
// shape are swallowed, never errors.
func (b *Broadcaster) HandleReaction(ctx context.Context, ev core.ReactionEvent, added bool) error {
	if ev.Reactor.ID == b.chat.BotID() || ev.Message.Author.ID != b.chat.BotID() {
		return nil
	}
	if len(ev.Message.Embeds) == 0 || !strings.Contains(ev.Message.Embeds[0].Title, broadcastTitle) {
		return nil
	}
	switch ev.Emoji {
	case ConfirmEmoji:
	case DeclineEmoji:
		// Accepted but deliberately inert, reserved for future use.
		return nil
	default:
		return nil
	}

	l := b.acquireMessage(ev.Message.ID)
	defer b.releaseMessage(ev.Message.ID, l)

	// The event's embed is a snapshot from when the reaction happened.
	// Re-read the live message under the lock so queued reactions see
	// each other's edits instead of resurrecting the snapshot.
	live, err := b.chat.FetchMessage(ctx, ev.Message.Channel, ev.Message.ID)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	if len(live.Embeds) == 0 {
		return nil
	}
	embed := live.Embeds[0]
	names, ok := attendingNames(&embed)
	if !ok {
		return nil
	}

	display := ev.Reactor.DisplayName
	if added {
		for _, n := range names {
			if n == display {
				return nil
			}
		}
		names = append(names, display)
	} else {
		// The initiator's own confirmation cannot be retracted.
		if display == embed.Author.Name {
			return nil
		}
		idx := -1
		for i, n := range names {
			if n == display {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		names = append(names[:idx], names[idx+1:]...)
	}

	setAttending(&embed, names)
	if err := b.chat.EditEmbed(ctx, ev.Message.Channel, ev.Message.ID, &embed); err != nil {
		return fmt.Errorf("update roster: %w", err)
	}
	log.Debug().Str("module", "app.broadcast").Str("message", string(ev.Message.ID)).
		Bool("added", added).Str("member", display).Msg("roster reconciled")
	return nil
}

func (b *Broadcaster) acquireMessage(id domain.MessageID) *msgLock {
	b.mu.Lock()
	l, ok := b.inflight[id]
	if !ok {
		l = &msgLock{}
		b.inflight[id] = l
	}
	l.refs++
	b.mu.Unlock()
	l.mu.Lock()
	return l
}

func (b *Broadcaster) releaseMessage(id domain.MessageID, l *msgLock) {
	l.mu.Unlock()
	b.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(b.inflight, id)
	}
	b.mu.Unlock()
}

// attendingNames decodes the delimiter-joined roster out of the embed.
// The string encoding is a detail of the message format; everything
// above this line works with the slice.
func attendingNames(e *core.Embed) ([]string, bool) {
	idx := e.FieldIndex(AttendingField)
	if idx < 0 {
		return nil, false
	}
	return strings.Split(e.Fields[idx].Value, attendingDelimiter), true
}

func setAttending(e *core.Embed, names []string) {
	idx := e.FieldIndex(AttendingField)
	if idx < 0 {
		return
	}
	e.Fields[idx].Value = strings.Join(names, attendingDelimiter)
}
