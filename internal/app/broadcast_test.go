package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/domain"
	"github.com/torvand/bellhop/internal/store"
)

// fakeChat records outbound traffic, serves canned members and keeps
// the current rendered state of every message it has seen, the way the
// platform would.
type fakeChat struct {
	botID    domain.MemberID
	members  map[domain.MemberID]domain.Member
	messages map[domain.MessageID]core.Message

	sent      []sentMessage
	edits     []core.Embed
	reactions []string
}

type sentMessage struct {
	Channel domain.ChannelID
	Content string
	Embed   *core.Embed
}

func cloneEmbed(e core.Embed) core.Embed {
	cp := e
	cp.Fields = append([]core.EmbedField(nil), e.Fields...)
	return cp
}

func (c *fakeChat) Member(_ context.Context, _ domain.ServerID, id domain.MemberID) (*domain.Member, error) {
	m, ok := c.members[id]
	if !ok {
		return nil, errors.New("unknown member")
	}
	return &m, nil
}

func (c *fakeChat) Send(_ context.Context, channel domain.ChannelID, content string, embed *core.Embed) (domain.MessageID, error) {
	c.sent = append(c.sent, sentMessage{Channel: channel, Content: content, Embed: embed})
	id := domain.MessageID(fmt.Sprintf("m%d", len(c.sent)))
	msg := core.Message{ID: id, Channel: channel, Author: domain.Member{ID: c.botID, Bot: true}, Content: content}
	if embed != nil {
		msg.Embeds = []core.Embed{cloneEmbed(*embed)}
	}
	c.messages[id] = msg
	return id, nil
}

func (c *fakeChat) EditEmbed(_ context.Context, _ domain.ChannelID, id domain.MessageID, embed *core.Embed) error {
	c.edits = append(c.edits, cloneEmbed(*embed))
	if msg, ok := c.messages[id]; ok {
		msg.Embeds = []core.Embed{cloneEmbed(*embed)}
		c.messages[id] = msg
	}
	return nil
}

func (c *fakeChat) FetchMessage(_ context.Context, _ domain.ChannelID, id domain.MessageID) (*core.Message, error) {
	msg, ok := c.messages[id]
	if !ok {
		return nil, errors.New("unknown message")
	}
	embeds := make([]core.Embed, len(msg.Embeds))
	for i, e := range msg.Embeds {
		embeds[i] = cloneEmbed(e)
	}
	msg.Embeds = embeds
	return &msg, nil
}

func (c *fakeChat) React(_ context.Context, _ domain.ChannelID, _ domain.MessageID, emoji string) error {
	c.reactions = append(c.reactions, emoji)
	return nil
}

func (c *fakeChat) BotID() domain.MemberID { return c.botID }

func newTestBroadcaster(t *testing.T) (*Broadcaster, *fakeChat, *store.JSONStore) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "subscriptions.json"))
	chat := &fakeChat{
		botID: "bot",
		members: map[domain.MemberID]domain.Member{
			"u1": {ID: "u1", Username: "alice", DisplayName: "Alice"},
			"u2": {ID: "u2", Username: "bob", DisplayName: "Bob"},
		},
		messages: map[domain.MessageID]core.Message{},
	}
	return NewBroadcaster(st, chat, "!", 2), chat, st
}

func seedSub(t *testing.T, st *store.JSONStore, name domain.SubName, ids ...domain.MemberID) {
	t.Helper()
	err := st.Update(context.Background(), "srv", func(subs domain.ServerSubs) error {
		subs[name] = ids
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAnnounceNoMatch(t *testing.T) {
	b, chat, _ := newTestBroadcaster(t)
	_, err := b.Announce(context.Background(), "srv", "ch", "ghosts", &domain.Member{ID: "u1", DisplayName: "Alice"})
	if !errors.Is(err, domain.ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
	if len(chat.sent) != 0 {
		t.Errorf("nothing should be posted on no-match")
	}
}

func TestAnnounceAmbiguous(t *testing.T) {
	b, _, st := newTestBroadcaster(t)
	seedSub(t, st, "Anime", "u1")
	seedSub(t, st, "Anarchy", "u2")

	_, err := b.Announce(context.Background(), "srv", "ch", "An", &domain.Member{ID: "u1", DisplayName: "Alice"})
	var ambiguous *domain.AmbiguousMatchError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousMatchError, got %v", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Errorf("expected both candidates reported, got %v", ambiguous.Candidates)
	}
}

func TestAnnounceEmptySub(t *testing.T) {
	b, _, st := newTestBroadcaster(t)
	seedSub(t, st, "raiders")

	_, err := b.Announce(context.Background(), "srv", "ch", "raiders", &domain.Member{ID: "u1", DisplayName: "Alice"})
	var empty *domain.EmptySubscriptionError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptySubscriptionError, got %v", err)
	}
	if empty.Name != "raiders" {
		t.Errorf("expected raiders, got %s", empty.Name)
	}
}

func TestAnnounceOpensBroadcast(t *testing.T) {
	b, chat, st := newTestBroadcaster(t)
	seedSub(t, st, "raiders", "u1", "u2")

	ann, err := b.Announce(context.Background(), "srv", "ch", "raid", &domain.Member{ID: "u1", DisplayName: "Alice", AvatarURL: "http://a"})
	if err != nil {
		t.Fatal(err)
	}
	if ann.Sub != "raiders" {
		t.Errorf("resolved sub = %s", ann.Sub)
	}
	if len(chat.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(chat.sent))
	}

	msg := chat.sent[0]
	if !strings.HasPrefix(msg.Content, "||") || !strings.HasSuffix(msg.Content, "||") {
		t.Errorf("mentions must be spoiler-wrapped: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "<@u1>") || !strings.Contains(msg.Content, "<@u2>") {
		t.Errorf("missing mentions: %q", msg.Content)
	}
	if !strings.Contains(msg.Embed.Title, "Calling all raiders") {
		t.Errorf("title = %q", msg.Embed.Title)
	}
	idx := msg.Embed.FieldIndex(AttendingField)
	if idx < 0 || msg.Embed.Fields[idx].Value != "Alice" {
		t.Errorf("Attending must be seeded with the initiator, got %+v", msg.Embed.Fields)
	}
	if msg.Embed.Author.Name != "Alice" {
		t.Errorf("author = %q", msg.Embed.Author.Name)
	}
	if len(chat.reactions) != 2 || chat.reactions[0] != ConfirmEmoji || chat.reactions[1] != DeclineEmoji {
		t.Errorf("reaction affordances = %v", chat.reactions)
	}
}

func broadcastMessage(attending string) core.Message {
	return core.Message{
		ID:      "m1",
		Server:  "srv",
		Channel: "ch",
		Author:  domain.Member{ID: "bot", Bot: true},
		Embeds: []core.Embed{{
			Title:  "**Calling all raiders members!**",
			Author: core.EmbedAuthor{Name: "Alice"},
			Fields: []core.EmbedField{{Name: AttendingField, Value: attending}},
		}},
	}
}

func attendingOf(t *testing.T, e core.Embed) string {
	t.Helper()
	idx := e.FieldIndex(AttendingField)
	if idx < 0 {
		t.Fatal("no Attending field")
	}
	return e.Fields[idx].Value
}

// seedBroadcast plants an open announcement as the platform's current
// rendered state.
func seedBroadcast(chat *fakeChat, attending string) {
	msg := broadcastMessage(attending)
	chat.messages[msg.ID] = msg
}

func TestReconcileRoster(t *testing.T) {
	ctx := context.Background()
	b, chat, _ := newTestBroadcaster(t)
	seedBroadcast(chat, "Alice")

	bob := domain.Member{ID: "u2", DisplayName: "Bob"}
	alice := domain.Member{ID: "u1", DisplayName: "Alice"}

	// ✅ add from Bob appends him.
	ev := core.ReactionEvent{Message: broadcastMessage("Alice"), Reactor: bob, Emoji: ConfirmEmoji}
	if err := b.HandleReaction(ctx, ev, true); err != nil {
		t.Fatal(err)
	}
	if len(chat.edits) != 1 || attendingOf(t, chat.edits[0]) != "Alice, Bob" {
		t.Fatalf("expected roster Alice, Bob; edits=%v", chat.edits)
	}

	// Duplicate add is a no-op even when the event snapshot predates
	// Bob's first confirmation.
	ev = core.ReactionEvent{Message: broadcastMessage("Alice"), Reactor: bob, Emoji: ConfirmEmoji}
	if err := b.HandleReaction(ctx, ev, true); err != nil {
		t.Fatal(err)
	}
	if len(chat.edits) != 1 {
		t.Fatalf("duplicate add must not edit, edits=%d", len(chat.edits))
	}

	// Initiator removal is ignored.
	ev = core.ReactionEvent{Message: broadcastMessage("Alice, Bob"), Reactor: alice, Emoji: ConfirmEmoji}
	if err := b.HandleReaction(ctx, ev, false); err != nil {
		t.Fatal(err)
	}
	if len(chat.edits) != 1 {
		t.Fatalf("initiator removal must not edit, edits=%d", len(chat.edits))
	}

	// ✅ remove from Bob restores the roster; the stale snapshot does
	// not matter because the live field still lists him.
	ev = core.ReactionEvent{Message: broadcastMessage("Alice"), Reactor: bob, Emoji: ConfirmEmoji}
	if err := b.HandleReaction(ctx, ev, false); err != nil {
		t.Fatal(err)
	}
	if len(chat.edits) != 2 || attendingOf(t, chat.edits[1]) != "Alice" {
		t.Fatalf("expected roster restored to Alice, edits=%v", chat.edits)
	}

	// Removing an absent name is a no-op.
	carol := domain.Member{ID: "u3", DisplayName: "Carol"}
	ev = core.ReactionEvent{Message: broadcastMessage("Alice"), Reactor: carol, Emoji: ConfirmEmoji}
	if err := b.HandleReaction(ctx, ev, false); err != nil {
		t.Fatal(err)
	}
	if len(chat.edits) != 2 {
		t.Fatalf("absent-name removal must not edit, edits=%d", len(chat.edits))
	}
}

// Two confirmations whose events carry the same pre-edit snapshot must
// both survive: reconciliation reads the live field, not the snapshot.
func TestReconcileStaleSnapshotsKeepAllConfirmations(t *testing.T) {
	ctx := context.Background()
	b, chat, _ := newTestBroadcaster(t)
	seedBroadcast(chat, "Alice")

	stale := broadcastMessage("Alice")
	bob := domain.Member{ID: "u2", DisplayName: "Bob"}
	carol := domain.Member{ID: "u3", DisplayName: "Carol"}

	if err := b.HandleReaction(ctx, core.ReactionEvent{Message: stale, Reactor: bob, Emoji: ConfirmEmoji}, true); err != nil {
		t.Fatal(err)
	}
	if err := b.HandleReaction(ctx, core.ReactionEvent{Message: stale, Reactor: carol, Emoji: ConfirmEmoji}, true); err != nil {
		t.Fatal(err)
	}

	if len(chat.edits) != 2 {
		t.Fatalf("expected two edits, got %d", len(chat.edits))
	}
	if got := attendingOf(t, chat.edits[1]); got != "Alice, Bob, Carol" {
		t.Errorf("roster = %q, want all three", got)
	}
	live, err := chat.FetchMessage(ctx, "ch", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got := attendingOf(t, live.Embeds[0]); got != "Alice, Bob, Carol" {
		t.Errorf("live roster = %q, want all three", got)
	}
}

func TestMessageLocksEvicted(t *testing.T) {
	ctx := context.Background()
	b, chat, _ := newTestBroadcaster(t)
	seedBroadcast(chat, "Alice")
	bob := domain.Member{ID: "u2", DisplayName: "Bob"}

	if err := b.HandleReaction(ctx, core.ReactionEvent{Message: broadcastMessage("Alice"), Reactor: bob, Emoji: ConfirmEmoji}, true); err != nil {
		t.Fatal(err)
	}
	if len(b.inflight) != 0 {
		t.Errorf("message locks must be evicted after reconciliation, left %d", len(b.inflight))
	}

	// A deleted message surfaces the read failure and still evicts.
	gone := broadcastMessage("Alice")
	gone.ID = "m404"
	if err := b.HandleReaction(ctx, core.ReactionEvent{Message: gone, Reactor: bob, Emoji: ConfirmEmoji}, true); err == nil {
		t.Error("expected an error for a message that no longer exists")
	}
	if len(b.inflight) != 0 {
		t.Errorf("locks leaked after failed reconciliation: %d", len(b.inflight))
	}
}

func TestReconcileIgnoresForeignEvents(t *testing.T) {
	ctx := context.Background()
	b, chat, _ := newTestBroadcaster(t)
	bob := domain.Member{ID: "u2", DisplayName: "Bob"}

	// Bot's own reaction.
	ev := core.ReactionEvent{Message: broadcastMessage("Alice"), Reactor: domain.Member{ID: "bot"}, Emoji: ConfirmEmoji}
	if err := b.HandleReaction(ctx, ev, true); err != nil {
		t.Fatal(err)
	}

	// Message not authored by the bot.
	msg := broadcastMessage("Alice")
	msg.Author = domain.Member{ID: "u9"}
	if err := b.HandleReaction(ctx, core.ReactionEvent{Message: msg, Reactor: bob, Emoji: ConfirmEmoji}, true); err != nil {
		t.Fatal(err)
	}

	// Title without the broadcast marker.
	msg = broadcastMessage("Alice")
	msg.Embeds[0].Title = "Weekly schedule"
	if err := b.HandleReaction(ctx, core.ReactionEvent{Message: msg, Reactor: bob, Emoji: ConfirmEmoji}, true); err != nil {
		t.Fatal(err)
	}

	// Decline emoji is accepted but inert.
	if err := b.HandleReaction(ctx, core.ReactionEvent{Message: broadcastMessage("Alice"), Reactor: bob, Emoji: DeclineEmoji}, true); err != nil {
		t.Fatal(err)
	}

	if len(chat.edits) != 0 {
		t.Errorf("no edit should happen, got %v", chat.edits)
	}
}
