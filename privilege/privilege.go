// Package privilege tracks the set of users with elevated privileges in the
// bot's channel.
package privilege

import (
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"

	"github.com/zephyrtronium/bluebot/gate"
)

// ErrNoList is returned by ParseNotice when a notice is not a response to a
// moderator list query.
var ErrNoList = errors.New("notice is not a moderator list")

const (
	// query is the chat command which asks the server for the moderator list.
	query = "/mods"
	// none is the phrase of a response for a channel with no moderators.
	none = "There are no moderators of this channel"
	// intro introduces the names in a moderator list response.
	intro = "moderators of this channel are:"
)

// ParseNotice parses the text of a server notice responding to a moderator
// list query. A response stating there are no moderators gives an empty list.
// If the notice is not such a response, the error is ErrNoList.
func ParseNotice(text string) ([]string, error) {
	if strings.Contains(text, none) {
		return []string{}, nil
	}
	_, names, ok := strings.Cut(text, intro)
	if !ok {
		return nil, ErrNoList
	}
	names = strings.TrimRight(strings.TrimSpace(names), ".")
	var r []string
	for _, n := range strings.Split(names, ",") {
		n = strings.TrimSpace(n)
		if n != "" {
			r = append(r, n)
		}
	}
	return r, nil
}

// Normalize returns the canonical form of a username for comparisons.
func Normalize(name string) string {
	// Casers are stateful, so we need a new one for each call.
	return cases.Fold().String(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// Set is an immutable snapshot of the privileged users of a channel.
type Set struct {
	members   map[string]bool
	refreshed time.Time
}

func newSet(owner string, names []string, now time.Time) *Set {
	s := &Set{members: make(map[string]bool, len(names)+1), refreshed: now}
	s.members[Normalize(owner)] = true
	for _, n := range names {
		s.members[Normalize(n)] = true
	}
	return s
}

// Has reports whether name is in the set.
func (s *Set) Has(name string) bool {
	return s.members[Normalize(name)]
}

// Members returns the sorted normalized names in the set.
func (s *Set) Members() []string {
	r := make([]string, 0, len(s.members))
	for n := range s.members {
		r = append(r, n)
	}
	slices.Sort(r)
	return r
}

// Len returns the number of users in the set.
func (s *Set) Len() int {
	return len(s.members)
}

// Refreshed returns the time at which the set was created.
func (s *Set) Refreshed() time.Time {
	return s.refreshed
}

// Tracker holds the current privileged set of a channel. Updates replace the
// entire set. It is safe to read a Tracker concurrently with updates.
type Tracker struct {
	owner string
	me    string
	cur   atomic.Pointer[Set]
}

// NewTracker creates a tracker for a channel owned by owner on behalf of the
// bot user me. The initial set contains only the owner.
func NewTracker(owner, me string) *Tracker {
	t := &Tracker{owner: owner, me: me}
	t.cur.Store(newSet(owner, nil, time.Time{}))
	return t
}

// Query returns the chat text which requests the moderator list.
func (t *Tracker) Query() string {
	return query
}

// Observe updates the set from the text of a server notice. If the notice is
// a moderator list response, the set is replaced by its names plus the owner
// and the result is the new set. Otherwise, the error is ErrNoList and the
// set is unchanged.
func (t *Tracker) Observe(text string, now time.Time) (*Set, error) {
	names, err := ParseNotice(text)
	if err != nil {
		return nil, err
	}
	s := newSet(t.owner, names, now)
	t.cur.Store(s)
	return s, nil
}

// Set returns the current snapshot.
func (t *Tracker) Set() *Set {
	return t.cur.Load()
}

// Privileged reports whether name is in the current set.
func (t *Tracker) Privileged(name string) bool {
	return t.cur.Load().Has(name)
}

// Tier returns the bot's rate limit tier according to the current set.
func (t *Tracker) Tier() gate.Tier {
	if t.Privileged(t.me) {
		return gate.Privileged
	}
	return gate.Unprivileged
}
