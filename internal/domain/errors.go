package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Command-level failure taxonomy. Adapters translate these into
// user-facing reply text; none of them crash the process.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNameTooShort     = errors.New("subscription name too short")
	ErrDuplicateName    = errors.New("subscription already exists")
	ErrNotFound         = errors.New("subscription not found")
	ErrNotMember        = errors.New("not subscribed")
	ErrNoMatch          = errors.New("no subscription matches")
	ErrCorruptStore     = errors.New("subscription store unreadable")
	ErrMalformedArgs    = errors.New("missing required argument")
)

// AmbiguousMatchError reports a fuzzy query that resolved to more than
// one subscription and no exact name.
type AmbiguousMatchError struct {
	Query      string
	Candidates []SubName
}

func (e *AmbiguousMatchError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = string(c)
	}
	return fmt.Sprintf("query %q matches several subscriptions: %s", e.Query, strings.Join(names, ", "))
}

// EmptySubscriptionError reports a broadcast against a subscription
// that resolved but has nobody in it.
type EmptySubscriptionError struct {
	Name SubName
}

func (e *EmptySubscriptionError) Error() string {
	return fmt.Sprintf("subscription %q has no members", e.Name)
}
