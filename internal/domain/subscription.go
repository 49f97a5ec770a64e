package domain

type (
	ServerID  string
	ChannelID string
	MessageID string
	MemberID  string
	SubName   string
)

// Document is the persisted subscription registry, one per deployment.
// It is read and written wholesale; pretty-printing is cosmetic.
type Document map[ServerID]ServerSubs

// ServerSubs maps a subscription name to its ordered member list.
// Names are unique per server; member lists hold no duplicates.
type ServerSubs map[SubName][]MemberID

// Clone returns a deep copy so callers can mutate freely.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for sid, subs := range d {
		out[sid] = subs.Clone()
	}
	return out
}

func (s ServerSubs) Clone() ServerSubs {
	out := make(ServerSubs, len(s))
	for name, members := range s {
		cp := make([]MemberID, len(members))
		copy(cp, members)
		out[name] = cp
	}
	return out
}

// Contains reports whether id is already subscribed to name.
func (s ServerSubs) Contains(name SubName, id MemberID) bool {
	for _, m := range s[name] {
		if m == id {
			return true
		}
	}
	return false
}
