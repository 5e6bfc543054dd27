package cache

import (
	"sort"
	"time"
)

type ChannelKind int

const (
	KindOther ChannelKind = iota
	KindCategory
	KindText
	KindAnnouncement
)

// Cached reports whether channels of this kind are kept in the cache.
func (k ChannelKind) Cached() bool {
	return k == KindCategory || k == KindText || k == KindAnnouncement
}

func (k ChannelKind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindText:
		return "text"
	case KindAnnouncement:
		return "announcement"
	default:
		return "other"
	}
}

type OverwriteType int

const (
	OverwriteRole OverwriteType = iota
	OverwriteMember
)

type Overwrite struct {
	ID    string
	Type  OverwriteType
	Allow int64
	Deny  int64
}

type Channel struct {
	ID         string
	GuildID    string
	Name       string
	Kind       ChannelKind
	ParentID   string
	Position   int
	Overwrites []Overwrite
}

// Guild is an immutable snapshot. The sets are shared between snapshots and
// must not be modified by callers.
type Guild struct {
	ID                 string
	Name               string
	InCheck            bool
	ChannelIDs         IDSet
	TrackedCategoryIDs IDSet
	RoleIDs            IDSet
}

type Role struct {
	ID          string
	GuildID     string
	Name        string
	Permissions int64
	Position    int
}

// CurrentUser is the bot's own membership in one guild.
type CurrentUser struct {
	GuildID                    string
	UserID                     string
	CommunicationDisabledUntil *time.Time
	RoleIDs                    IDSet
}

// TimedOut reports whether the bot is communication-disabled at now.
func (u CurrentUser) TimedOut(now time.Time) bool {
	return u.CommunicationDisabledUntil != nil && u.CommunicationDisabledUntil.After(now)
}

// GuildSeed carries everything a guild-available event provides.
type GuildSeed struct {
	ID                 string
	Name               string
	InCheck            bool
	TrackedCategoryIDs IDSet
	Channels           []Channel
	Roles              []Role
}

// GuildUpdate fields left nil are not changed.
type GuildUpdate struct {
	Name               *string
	InCheck            *bool
	TrackedCategoryIDs IDSet
}

type RoleUpdate struct {
	Name        *string
	Permissions *int64
	Position    *int
}

type CurrentUserUpdate struct {
	TimeoutChanged             bool
	CommunicationDisabledUntil *time.Time
	RoleIDs                    IDSet
}

type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Len() int {
	return len(s)
}

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// With returns a copy of the set that also holds id.
func (s IDSet) With(id string) IDSet {
	out := s.Clone()
	out[id] = struct{}{}
	return out
}

// Without returns a copy of the set with id removed.
func (s IDSet) Without(id string) IDSet {
	out := s.Clone()
	delete(out, id)
	return out
}

// Slice returns the ids in sorted order.
func (s IDSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
