package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/domain"
)

// Membership owns create/delete of subscriptions and join/leave of
// members, enforcing permission and uniqueness invariants. Capability
// evaluation ("is this actor elevated") is the caller's job; the
// service only honors the verdict.
type Membership struct {
	store    core.Store
	dir      core.MemberDirectory
	minMatch int
}

func NewMembership(store core.Store, dir core.MemberDirectory, minMatch int) *Membership {
	return &Membership{store: store, dir: dir, minMatch: minMatch}
}

// Create inserts an empty subscription. Names are stored case-sensitive
// and must be unique per server and longer than the match minimum.
func (s *Membership) Create(ctx context.Context, server domain.ServerID, name domain.SubName, elevated bool) error {
	if !elevated {
		return domain.ErrPermissionDenied
	}
	if len(name) <= s.minMatch {
		return domain.ErrNameTooShort
	}
	err := s.store.Update(ctx, server, func(subs domain.ServerSubs) error {
		if MatchExact(subs, name) {
			return domain.ErrDuplicateName
		}
		subs[name] = []domain.MemberID{}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("module", "app.membership").Str("server", string(server)).Str("sub", string(name)).Msg("subscription created")
	return nil
}

// Delete removes a subscription by its exact name.
func (s *Membership) Delete(ctx context.Context, server domain.ServerID, name domain.SubName, elevated bool) error {
	if !elevated {
		return domain.ErrPermissionDenied
	}
	err := s.store.Update(ctx, server, func(subs domain.ServerSubs) error {
		if !MatchExact(subs, name) {
			return domain.ErrNotFound
		}
		delete(subs, name)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("module", "app.membership").Str("server", string(server)).Str("sub", string(name)).Msg("subscription removed")
	return nil
}

// JoinOutcome reports what a Join actually changed.
type JoinOutcome struct {
	// Added counts ids newly appended; already-present ids are skipped.
	Added int
	// AlreadyMember is set on a self-join that found the actor present.
	AlreadyMember bool
}

// Join appends members to a subscription's list. With mentions it is an
// admin bulk-add, idempotent per id; without, the actor joins themself.
func (s *Membership) Join(ctx context.Context, server domain.ServerID, name domain.SubName, actor domain.MemberID, mentions []domain.MemberID, elevated bool) (JoinOutcome, error) {
	var out JoinOutcome
	err := s.store.Update(ctx, server, func(subs domain.ServerSubs) error {
		if !MatchExact(subs, name) {
			return domain.ErrNotFound
		}
		if len(mentions) > 0 {
			if !elevated {
				return domain.ErrPermissionDenied
			}
			for _, id := range mentions {
				if subs.Contains(name, id) {
					continue
				}
				subs[name] = append(subs[name], id)
				out.Added++
			}
			return nil
		}
		if subs.Contains(name, actor) {
			out.AlreadyMember = true
			return nil
		}
		subs[name] = append(subs[name], actor)
		out.Added = 1
		return nil
	})
	if err != nil {
		return JoinOutcome{}, err
	}
	return out, nil
}

// LeaveOutcome mirrors JoinOutcome for removals.
type LeaveOutcome struct {
	Removed int
	// Missed lists mentioned ids that were not subscribed, reported
	// individually to the invoker.
	Missed []domain.MemberID
}

// Leave removes members from a subscription's list. Self-removal of an
// absent actor is ErrNotMember; bulk removal reports misses instead.
func (s *Membership) Leave(ctx context.Context, server domain.ServerID, name domain.SubName, actor domain.MemberID, mentions []domain.MemberID, elevated bool) (LeaveOutcome, error) {
	var out LeaveOutcome
	err := s.store.Update(ctx, server, func(subs domain.ServerSubs) error {
		if !MatchExact(subs, name) {
			return domain.ErrNotFound
		}
		if len(mentions) > 0 {
			if !elevated {
				return domain.ErrPermissionDenied
			}
			for _, id := range mentions {
				if removeMember(subs, name, id) {
					out.Removed++
				} else {
					out.Missed = append(out.Missed, id)
				}
			}
			return nil
		}
		if !removeMember(subs, name, actor) {
			return domain.ErrNotMember
		}
		out.Removed = 1
		return nil
	})
	if err != nil {
		return LeaveOutcome{}, err
	}
	return out, nil
}

func removeMember(subs domain.ServerSubs, name domain.SubName, id domain.MemberID) bool {
	members := subs[name]
	for i, m := range members {
		if m == id {
			subs[name] = append(members[:i], members[i+1:]...)
			return true
		}
	}
	return false
}

// ListMode selects one block of a list query. Modes may be combined in
// a single call and render in the order requested.
type ListMode int

const (
	ListAll ListMode = iota
	ListSubscribers
	ListMine
)

// ListQuery is one requested block; Sub is only set for ListSubscribers.
type ListQuery struct {
	Mode ListMode
	Sub  domain.SubName
}

// ListBlock is one rendered-ready block of a list reply.
type ListBlock struct {
	Mode ListMode
	Sub  domain.SubName
	// Names holds subscription names, or resolved display names for
	// the subscribers mode.
	Names []string
}

// List answers lsub queries. Subscriber display names are resolved
// through the member directory; a failed lookup falls back to the raw id
// rather than failing the whole listing.
func (s *Membership) List(ctx context.Context, server domain.ServerID, queries []ListQuery, requester domain.MemberID) ([]ListBlock, error) {
	var blocks []ListBlock
	err := s.store.View(ctx, func(doc domain.Document) error {
		subs := doc[server]
		for _, q := range queries {
			switch q.Mode {
			case ListAll:
				block := ListBlock{Mode: ListAll}
				for name := range subs {
					block.Names = append(block.Names, string(name))
				}
				sort.Strings(block.Names)
				blocks = append(blocks, block)

			case ListSubscribers:
				if !MatchExact(subs, q.Sub) {
					return fmt.Errorf("%q: %w", q.Sub, domain.ErrNotFound)
				}
				block := ListBlock{Mode: ListSubscribers, Sub: q.Sub}
				for _, id := range subs[q.Sub] {
					m, err := s.dir.Member(ctx, server, id)
					if err != nil {
						log.Warn().Err(err).Str("module", "app.membership").Str("member", string(id)).Msg("member lookup failed")
						block.Names = append(block.Names, string(id))
						continue
					}
					block.Names = append(block.Names, m.Username)
				}
				blocks = append(blocks, block)

			case ListMine:
				block := ListBlock{Mode: ListMine}
				for name, members := range subs {
					for _, id := range members {
						if id == requester {
							block.Names = append(block.Names, string(name))
							break
						}
					}
				}
				sort.Strings(block.Names)
				blocks = append(blocks, block)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}
