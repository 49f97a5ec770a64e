package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/torvand/bellhop/internal/app"
	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/domain"
)

// Router turns inbound chat messages into service calls and service
// errors back into plain-text replies. Each event is handled to
// completion independently; nothing here crashes the process.
type Router struct {
	prefix       string
	minMatch     int
	elevatedRole string

	store      core.Store
	chat       core.Chat
	membership *app.Membership
	broadcast  *app.Broadcaster
}

func NewRouter(prefix, elevatedRole string, minMatch int, store core.Store, chat core.Chat, membership *app.Membership, broadcast *app.Broadcaster) *Router {
	return &Router{
		prefix:       prefix,
		minMatch:     minMatch,
		elevatedRole: elevatedRole,
		store:        store,
		chat:         chat,
		membership:   membership,
		broadcast:    broadcast,
	}
}

// elevated is the permission predicate for mksub/rmsub: the configured
// role or the platform's administrator capability.
func (r *Router) elevated(m *domain.Member) bool {
	return m.Admin || m.HasRole(r.elevatedRole)
}

// EnsureServers seeds a registry entry for every joined server. Invoked
// from the gateway ready callback on every (re)connect; idempotent.
func (r *Router) EnsureServers(ctx context.Context, servers []domain.ServerID) {
	if err := r.store.EnsureServers(ctx, servers); err != nil {
		log.Error().Err(err).Str("module", "commands").Msg("seed servers failed")
	}
}

// HandleMessage dispatches one inbound text command.
func (r *Router) HandleMessage(ctx context.Context, msg core.Message) {
	if msg.Author.Bot || msg.Author.ID == r.chat.BotID() {
		return
	}
	if !strings.HasPrefix(msg.Content, r.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(msg.Content, r.prefix))
	if len(fields) == 0 {
		return
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	log.Debug().Str("module", "commands").Str("verb", verb).
		Str("server", string(msg.Server)).Str("author", string(msg.Author.ID)).Msg("command")

	var err error
	switch verb {
	case "mksub", "makesub":
		err = r.makeSub(ctx, msg, args)
	case "rmsub", "removesub":
		err = r.removeSub(ctx, msg, args)
	case "sub", "subscribe":
		err = r.subscribe(ctx, msg, args)
	case "unsub", "unsubscribe":
		err = r.unsubscribe(ctx, msg, args)
	case "lsub", "listsubs":
		err = r.listSubs(ctx, msg, args)
	case "atsub", "at", "a", "@":
		err = r.atSub(ctx, msg, args)
	case "help":
		err = r.help(ctx, msg)
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "commands").Str("verb", verb).Msg("command failed")
		r.reply(ctx, msg, "Something went wrong, try again in a bit.")
	}
}

func (r *Router) reply(ctx context.Context, msg core.Message, text string) {
	if _, err := r.chat.Send(ctx, msg.Channel, text, nil); err != nil {
		log.Error().Err(err).Str("module", "commands").Str("channel", string(msg.Channel)).Msg("reply failed")
	}
}

func (r *Router) makeSub(ctx context.Context, msg core.Message, args []string) error {
	if len(args) < 1 {
		r.reply(ctx, msg, fmt.Sprintf("Usage: `%smksub SUBSCRIPTION`", r.prefix))
		return nil
	}
	name := domain.SubName(args[0])
	err := r.membership.Create(ctx, msg.Server, name, r.elevated(&msg.Author))
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		r.reply(ctx, msg, "Hey, you're not allowed to manage subscriptions...")
	case errors.Is(err, domain.ErrNameTooShort):
		r.reply(ctx, msg, fmt.Sprintf("This name is too short! Please make this name at least %d characters long.", r.minMatch+1))
	case errors.Is(err, domain.ErrDuplicateName):
		r.reply(ctx, msg, fmt.Sprintf("Subscription '%s' already exists. Please choose a different name.", name))
	case err != nil:
		return err
	default:
		r.reply(ctx, msg, fmt.Sprintf("Subscription '%s' successfully created.", name))
	}
	return nil
}

func (r *Router) removeSub(ctx context.Context, msg core.Message, args []string) error {
	if len(args) < 1 {
		r.reply(ctx, msg, fmt.Sprintf("Usage: `%srmsub SUBSCRIPTION`", r.prefix))
		return nil
	}
	name := domain.SubName(args[0])
	err := r.membership.Delete(ctx, msg.Server, name, r.elevated(&msg.Author))
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		r.reply(ctx, msg, "Hey, you're not allowed to manage subscriptions...")
	case errors.Is(err, domain.ErrNotFound):
		r.reply(ctx, msg, fmt.Sprintf("%s doesn't exist. Note this command is case sensitive!", name))
	case err != nil:
		return err
	default:
		r.reply(ctx, msg, fmt.Sprintf("Subscription '%s' successfully removed.", name))
	}
	return nil
}

func mentionIDs(msg core.Message) []domain.MemberID {
	out := make([]domain.MemberID, 0, len(msg.Mentions))
	for _, m := range msg.Mentions {
		out = append(out, m.ID)
	}
	return out
}

func (r *Router) subscribe(ctx context.Context, msg core.Message, args []string) error {
	if len(args) < 1 {
		r.reply(ctx, msg, fmt.Sprintf("Usage: `%ssub SUBSCRIPTION [@mention...]`", r.prefix))
		return nil
	}
	name := domain.SubName(args[0])
	mentions := mentionIDs(msg)
	out, err := r.membership.Join(ctx, msg.Server, name, msg.Author.ID, mentions, msg.Author.Admin)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.reply(ctx, msg, fmt.Sprintf(
			"%s doesn't exist. You can check the subscriptions using `%slsub all`. Note this command is case sensitive!",
			name, r.prefix))
	case errors.Is(err, domain.ErrPermissionDenied):
		r.reply(ctx, msg, "You must be an administrator to do this")
	case err != nil:
		return err
	case len(mentions) > 0:
		r.reply(ctx, msg, fmt.Sprintf("Subscribed %d users to %s", out.Added, name))
	case out.AlreadyMember:
		r.reply(ctx, msg, fmt.Sprintf("You've already subscribed to '%s'!", name))
	default:
		r.reply(ctx, msg, fmt.Sprintf("Subscribed to '%s' successfully", name))
	}
	return nil
}

func (r *Router) unsubscribe(ctx context.Context, msg core.Message, args []string) error {
	if len(args) < 1 {
		r.reply(ctx, msg, fmt.Sprintf("Usage: `%sunsub SUBSCRIPTION [@mention...]`", r.prefix))
		return nil
	}
	name := domain.SubName(args[0])
	mentions := mentionIDs(msg)
	out, err := r.membership.Leave(ctx, msg.Server, name, msg.Author.ID, mentions, msg.Author.Admin)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.reply(ctx, msg, fmt.Sprintf("%s doesn't exist. Note this command is case sensitive!", name))
	case errors.Is(err, domain.ErrPermissionDenied):
		r.reply(ctx, msg, "You must be an administrator to do this")
	case errors.Is(err, domain.ErrNotMember):
		r.reply(ctx, msg, fmt.Sprintf("You're not in %s", name))
	case err != nil:
		return err
	case len(mentions) > 0:
		if len(out.Missed) > 0 {
			missed := "Couldn't remove:\n"
			for _, id := range out.Missed {
				missed += "    - " + r.mentionName(msg, id) + "\n"
			}
			r.reply(ctx, msg, missed)
		}
		r.reply(ctx, msg, fmt.Sprintf("Unsubscribed %d users from %s", out.Removed, name))
	default:
		r.reply(ctx, msg, fmt.Sprintf("Unsubscribed from %s", name))
	}
	return nil
}

// mentionName resolves a mentioned id back to a username using the
// mention objects already on the message.
func (r *Router) mentionName(msg core.Message, id domain.MemberID) string {
	for _, m := range msg.Mentions {
		if m.ID == id {
			return m.Username
		}
	}
	return string(id)
}

func (r *Router) listSubs(ctx context.Context, msg core.Message, args []string) error {
	queries, err := parseListArgs(args)
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("Usage: `%slsub [all|subscribers SUBSCRIPTION|me]...`", r.prefix))
		return nil
	}

	var known bool
	if err := r.store.View(ctx, func(doc domain.Document) error {
		_, known = doc[msg.Server]
		return nil
	}); err != nil {
		return err
	}
	if !known {
		r.reply(ctx, msg, "There are no subscriptions for this server.")
		return nil
	}

	blocks, err := r.membership.List(ctx, msg.Server, queries, msg.Author.ID)
	if errors.Is(err, domain.ErrNotFound) {
		r.reply(ctx, msg, "That subscription does not exist. Note this command is case sensitive!")
		return nil
	}
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, block := range blocks {
		switch block.Mode {
		case app.ListAll:
			fmt.Fprintf(&b, "All subscriptions:\n")
			for _, name := range block.Names {
				fmt.Fprintf(&b, "    - %s\n", name)
			}
		case app.ListSubscribers:
			fmt.Fprintf(&b, "%s members:\n", block.Sub)
			for _, name := range block.Names {
				fmt.Fprintf(&b, "    - %s\n", name)
			}
		case app.ListMine:
			fmt.Fprintf(&b, "%s, you are in:\n", msg.Author.Username)
			if len(block.Names) == 0 {
				fmt.Fprintf(&b, "No subs!\nCall `%ssub sub_name` to subscribe.\n", r.prefix)
				continue
			}
			for _, name := range block.Names {
				fmt.Fprintf(&b, "    - %s\n", name)
			}
		}
	}
	r.reply(ctx, msg, b.String())
	return nil
}

// parseListArgs keeps the blocks in the order the modes were requested;
// "subscribers" consumes the following argument as the name. No
// arguments means "all". Unknown tokens are ignored.
func parseListArgs(args []string) ([]app.ListQuery, error) {
	if len(args) == 0 {
		return []app.ListQuery{{Mode: app.ListAll}}, nil
	}
	var queries []app.ListQuery
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "all":
			queries = append(queries, app.ListQuery{Mode: app.ListAll})
		case "me":
			queries = append(queries, app.ListQuery{Mode: app.ListMine})
		case "subscribers":
			if i+1 >= len(args) {
				return nil, domain.ErrMalformedArgs
			}
			i++
			queries = append(queries, app.ListQuery{Mode: app.ListSubscribers, Sub: domain.SubName(args[i])})
		}
	}
	if len(queries) == 0 {
		return []app.ListQuery{{Mode: app.ListAll}}, nil
	}
	return queries, nil
}

func (r *Router) atSub(ctx context.Context, msg core.Message, args []string) error {
	if len(args) < 1 {
		r.reply(ctx, msg, fmt.Sprintf("Usage: `%satsub SUBSCRIPTION`", r.prefix))
		return nil
	}
	query := args[0]
	_, err := r.broadcast.Announce(ctx, msg.Server, msg.Channel, query, &msg.Author)

	var ambiguous *domain.AmbiguousMatchError
	var empty *domain.EmptySubscriptionError
	switch {
	case errors.Is(err, domain.ErrNoMatch):
		r.reply(ctx, msg, fmt.Sprintf("%s doesn't exist, call `%smksub %s`", query, r.prefix, query))
	case errors.As(err, &ambiguous):
		text := "There were multiple subscriptions that matched your query:\n"
		for _, name := range ambiguous.Candidates {
			text += fmt.Sprintf("    - %s\n", name)
		}
		text += "Try sending a more specific query"
		r.reply(ctx, msg, text)
	case errors.As(err, &empty):
		r.reply(ctx, msg, fmt.Sprintf(
			"There are no users in %s, you can sub to it with `%ssub %s`!", empty.Name, r.prefix, empty.Name))
	case err != nil:
		return err
	}
	return nil
}

func (r *Router) help(ctx context.Context, msg core.Message) error {
	p := r.prefix
	r.reply(ctx, msg, strings.Join([]string{
		"A way to mention a group of people without extra roles:",
		fmt.Sprintf("`%smksub SUBSCRIPTION`: make a subscription", p),
		fmt.Sprintf("`%srmsub SUBSCRIPTION`: remove a subscription", p),
		fmt.Sprintf("`%ssub SUBSCRIPTION [@mention...]`: subscribe", p),
		fmt.Sprintf("`%sunsub SUBSCRIPTION [@mention...]`: unsubscribe", p),
		fmt.Sprintf("`%slsub [all|subscribers SUBSCRIPTION|me]...`: list subscriptions", p),
		fmt.Sprintf("`%satsub SUBSCRIPTION`: @'s users of a sub", p),
	}, "\n"))
	return nil
}

// HandleReactionAdd reconciles a ✅ add against the broadcast roster.
func (r *Router) HandleReactionAdd(ctx context.Context, ev core.ReactionEvent) {
	if err := r.broadcast.HandleReaction(ctx, ev, true); err != nil {
		log.Error().Err(err).Str("module", "commands").Str("message", string(ev.Message.ID)).Msg("reaction add failed")
	}
}

// HandleReactionRemove reconciles a ✅ remove against the broadcast roster.
func (r *Router) HandleReactionRemove(ctx context.Context, ev core.ReactionEvent) {
	if err := r.broadcast.HandleReaction(ctx, ev, false); err != nil {
		log.Error().Err(err).Str("module", "commands").Str("message", string(ev.Message.ID)).Msg("reaction remove failed")
	}
}
