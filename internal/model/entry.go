package model

import (
	"time"

	"github.com/google/uuid"
)

// Canonical attribute keys every Entry is expected to carry, even if empty.
const (
	AttrTitle    = "Title"
	AttrUserName = "UserName"
	AttrPassword = "Password"
	AttrURL      = "URL"
	AttrNotes    = "Notes"
)

// Attribute is one entry field. Protected attributes must be stream-
// enciphered on disk (XOR'd against the inner random stream).
type Attribute struct {
	Value     string
	Protected bool
}

// Attachment is a named binary blob owned by an Entry. Hash lets the codec
// deduplicate identical attachment bodies across entries by writing the
// body once and referencing it by hash from every entry that uses it.
type Attachment struct {
	Name string
	Data []byte
	Hash [32]byte
}

// AutoTypeAssociation binds an auto-type keystroke sequence to a matching
// window title or a default sequence.
type AutoTypeAssociation struct {
	Window   string
	Sequence string
}

// Entry is one credential record: a UUID, a set of named attributes, any
// number of attachments, tags, an icon, lifecycle timestamps, and a bounded
// history of its own prior snapshots.
type Entry struct {
	UUID        uuid.UUID
	Attributes  map[string]Attribute
	Attachments map[string]Attachment
	AutoType    []AutoTypeAssociation
	Tags        []string
	IconNumber  int
	CustomIcon  uuid.UUID
	Time        TimeInfo
	CustomData  CustomData

	// History holds prior snapshots of this Entry, oldest first. History
	// entries never carry their own History.
	History []*Entry

	parent *Group    // weak
	db     *Database // weak
}

// NewEntry creates an Entry with a fresh UUID and the canonical attributes
// present but empty, the way a freshly-added entry starts out.
func NewEntry(now time.Time) *Entry {
	return &Entry{
		UUID: uuid.New(),
		Attributes: map[string]Attribute{
			AttrTitle:    {},
			AttrUserName: {},
			AttrPassword: {Protected: true},
			AttrURL:      {},
			AttrNotes:    {},
		},
		Attachments: map[string]Attachment{},
		CustomData:  CustomData{},
		Time:        NewTimeInfo(now),
	}
}

// Group returns the Entry's owning group, or nil if detached.
func (e *Entry) Group() *Group { return e.parent }

// Database returns the Entry's owning database, or nil if detached.
func (e *Entry) Database() *Database { return e.db }

// Attr returns the value of the named attribute, or "" if unset.
func (e *Entry) Attr(key string) string {
	return e.Attributes[key].Value
}

// SetAttr sets an attribute's value, preserving its current protected flag,
// except that the canonical Password attribute is always marked protected.
func (e *Entry) SetAttr(key, value string) {
	a := e.Attributes[key]
	a.Value = value
	if key == AttrPassword {
		a.Protected = true
	}
	e.Attributes[key] = a
}

// Title is a convenience accessor over the canonical Title attribute.
func (e *Entry) Title() string { return e.Attr(AttrTitle) }

// PushHistory appends snapshot (a prior state of e, typically from
// Entry.Clone) to e's history, then evicts by the owning Metadata's
// history limits. Callers that overwrite an entry's live fields — a
// direct edit, or the merge engine reconciling a conflict — call this
// first with a snapshot of the pre-overwrite state.
func (e *Entry) PushHistory(snapshot *Entry, meta *Metadata) {
	snapshot.History = nil
	e.History = append(e.History, snapshot)
	e.enforceHistoryLimits(meta)
}

// ReplaceHistory discards e's current history and installs snapshots in
// its place, still subject to the owning Metadata's history limits. Used
// by merge's Synchronize mode, which recomputes the whole bounded history
// from the union of both replicas rather than appending one snapshot.
func (e *Entry) ReplaceHistory(snapshots []*Entry, meta *Metadata) {
	e.History = nil
	for _, s := range snapshots {
		s.History = nil
		e.History = append(e.History, s)
	}
	e.enforceHistoryLimits(meta)
}

func (e *Entry) enforceHistoryLimits(meta *Metadata) {
	if meta == nil {
		return
	}
	if meta.HistoryMaxItems > 0 {
		for len(e.History) > meta.HistoryMaxItems {
			e.History = e.History[1:]
		}
	}
	if meta.HistoryMaxSize > 0 {
		for historySize(e.History) > meta.HistoryMaxSize && len(e.History) > 0 {
			e.History = e.History[1:]
		}
	}
}

func historySize(history []*Entry) int64 {
	var total int64
	for _, h := range history {
		total += entrySize(h)
	}
	return total
}

// entrySize approximates the serialized footprint of an entry for history
// byte-budget accounting: attribute values plus attachment bodies.
func entrySize(e *Entry) int64 {
	var total int64
	for k, v := range e.Attributes {
		total += int64(len(k) + len(v.Value))
	}
	for name, att := range e.Attachments {
		total += int64(len(name) + len(att.Data))
	}
	return total
}

// Clone returns a deep copy of the entry. If newUUID is true the clone gets
// a fresh UUID (used by merge-mode Duplicate); otherwise the UUID is
// preserved (used for history snapshots).
func (e *Entry) Clone(newUUID bool) *Entry {
	clone := &Entry{
		UUID:       e.UUID,
		Attributes: make(map[string]Attribute, len(e.Attributes)),
		Attachments: make(map[string]Attachment, len(e.Attachments)),
		AutoType:   append([]AutoTypeAssociation(nil), e.AutoType...),
		Tags:       append([]string(nil), e.Tags...),
		IconNumber: e.IconNumber,
		CustomIcon: e.CustomIcon,
		Time:       e.Time,
		CustomData: e.CustomData.Clone(),
	}
	if newUUID {
		clone.UUID = uuid.New()
	}
	for k, v := range e.Attributes {
		clone.Attributes[k] = v
	}
	for k, v := range e.Attachments {
		data := append([]byte(nil), v.Data...)
		clone.Attachments[k] = Attachment{Name: v.Name, Data: data, Hash: v.Hash}
	}
	for _, h := range e.History {
		clone.History = append(clone.History, h.Clone(false))
	}
	return clone
}

// Equals reports whether two entries have the same field content, ignoring
// parent/database back-references and history — used by merge to decide
// whether two snapshots are duplicates.
func (e *Entry) Equals(other *Entry) bool {
	if other == nil || e.UUID != other.UUID {
		return false
	}
	if len(e.Attributes) != len(other.Attributes) {
		return false
	}
	for k, v := range e.Attributes {
		if other.Attributes[k] != v {
			return false
		}
	}
	if len(e.Attachments) != len(other.Attachments) {
		return false
	}
	for k, v := range e.Attachments {
		ov, ok := other.Attachments[k]
		if !ok || ov.Name != v.Name || ov.Hash != v.Hash {
			return false
		}
	}
	return true
}
