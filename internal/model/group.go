package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"vaultkeep/internal/errs"
)

// TriState resolves up the parent chain: Inherit defers to the parent's
// setting, the first non-Inherit value up the chain wins, and Enable is
// the result when every ancestor is Inherit.
type TriState int

const (
	Inherit TriState = iota
	Enable
	Disable
)

// MergeMode selects how the merge engine resolves a conflict on an entry
// owned (directly or by inheritance) by this group. Default inherits from
// the parent group, falling back to Synchronize at the root.
type MergeMode int

const (
	MergeDefault MergeMode = iota
	MergeDuplicate
	MergeKeepLocal
	MergeKeepRemote
	MergeKeepNewer
	MergeSynchronize
)

// Group owns an ordered list of child Groups and an ordered list of child
// Entries. Every Group except the root has exactly one parent.
type Group struct {
	UUID                    uuid.UUID
	Name                    string
	Notes                   string
	IconNumber              int
	CustomIcon              uuid.UUID
	Time                    TimeInfo
	IsExpanded              bool
	DefaultAutoTypeSequence string
	AutoTypeEnabled         TriState
	SearchingEnabled        TriState
	InheritEnabled          TriState
	MergeModePref           MergeMode
	CustomData              CustomData

	lastTopVisibleEntry *Entry // weak

	children []*Group
	entries  []*Entry

	parent *Group    // weak, nil for the root
	db     *Database // weak
}

// NewGroup creates a Group with a fresh UUID.
func NewGroup(now time.Time) *Group {
	return &Group{
		UUID:       uuid.New(),
		Time:       NewTimeInfo(now),
		CustomData: CustomData{},
	}
}

// Parent returns the group's parent, or nil for the root.
func (g *Group) Parent() *Group { return g.parent }

// Database returns the group's owning database, or nil if detached.
func (g *Group) Database() *Database { return g.db }

// Children returns the group's direct child groups, in order. The slice is
// owned by Group; callers must not mutate it.
func (g *Group) Children() []*Group { return g.children }

// Entries returns the group's direct child entries, in order. The slice is
// owned by Group; callers must not mutate it.
func (g *Group) Entries() []*Entry { return g.entries }

// LastTopVisibleEntry returns the weak pointer UIs use to restore scroll
// position, or nil.
func (g *Group) LastTopVisibleEntry() *Entry { return g.lastTopVisibleEntry }

// SetLastTopVisibleEntry records a weak pointer to one of this group's
// entries. It does not extend the entry's lifetime.
func (g *Group) SetLastTopVisibleEntry(e *Entry) { g.lastTopVisibleEntry = e }

// IsAncestorOf reports whether g is an ancestor of other (or other itself),
// walking up other's parent chain.
func (g *Group) IsAncestorOf(other *Group) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == g {
			return true
		}
	}
	return false
}

// AddEntry appends entry as a direct child of g, taking ownership and
// setting its parent and database back-references. entry must not already
// belong to a group.
func (g *Group) AddEntry(entry *Entry) error {
	if entry.parent != nil {
		return errs.Invariant("Group.AddEntry", errInvalid("entry already has a parent"))
	}
	g.db.notifyEntryAboutToAdd(entry)
	entry.parent = g
	entry.db = g.db
	g.entries = append(g.entries, entry)
	g.db.notifyEntryAdded(entry)
	g.db.markModified()
	return nil
}

// RemoveEntry detaches entry from g without recording a tombstone — used
// internally by SetParentOfEntry and by recycling, which moves rather than
// deletes. Permanent deletion goes through Database.DeleteEntry, which
// also records a tombstone via Database.AddDeletedObject.
func (g *Group) RemoveEntry(entry *Entry) {
	idx := indexOfEntry(g.entries, entry)
	if idx < 0 {
		return
	}
	g.db.notifyEntryAboutToRemove(entry)
	g.entries = append(g.entries[:idx], g.entries[idx+1:]...)
	if g.lastTopVisibleEntry == entry {
		g.lastTopVisibleEntry = nil
	}
	entry.parent = nil
	g.db.notifyEntryRemoved(entry)
	g.db.markModified()
}

// AddGroup appends child as a direct child of g. Returns InvariantViolation
// if child is an ancestor of g (which would create a cycle) or already has
// a parent.
func (g *Group) AddGroup(child *Group) error {
	if child.parent != nil {
		return errs.Invariant("Group.AddGroup", errInvalid("group already has a parent"))
	}
	if child.IsAncestorOf(g) {
		return errs.Invariant("Group.AddGroup", errInvalid("would create a cycle"))
	}
	g.db.notifyGroupAboutToAdd(child)
	child.parent = g
	child.setDatabaseRecursive(g.db)
	g.children = append(g.children, child)
	g.db.notifyGroupAdded(child)
	g.db.markModified()
	return nil
}

// RemoveGroup detaches child from g. Cascading destruction of child's
// descendants is the caller's responsibility via Database.DeleteGroup.
func (g *Group) RemoveGroup(child *Group) {
	idx := indexOfGroup(g.children, child)
	if idx < 0 {
		return
	}
	g.db.notifyGroupAboutToRemove(child)
	g.children = append(g.children[:idx], g.children[idx+1:]...)
	child.parent = nil
	g.db.notifyGroupRemoved(child)
	g.db.markModified()
}

// SetParentOfEntry re-parents entry under g and records now as the
// entry's LocationChanged time. This is the only sanctioned
// way to move an entry between groups — it keeps LocationChanged correct
// for merge.
func (g *Group) SetParentOfEntry(entry *Entry, now time.Time) error {
	if entry.parent == g {
		return nil
	}
	if entry.parent != nil {
		entry.parent.RemoveEntry(entry)
	}
	if err := g.AddEntry(entry); err != nil {
		return err
	}
	entry.Time.LocationChanged = now
	return nil
}

// SetParentOfGroup re-parents child under g. Returns InvariantViolation if that
// would re-parent the root or create a cycle.
func (g *Group) SetParentOfGroup(child *Group, now time.Time) error {
	if child.parent == nil && child.db != nil && child.db.root == child {
		return errs.Invariant("Group.SetParentOfGroup", errInvalid("cannot re-parent the root group"))
	}
	if child.parent == g {
		return nil
	}
	if child.IsAncestorOf(g) {
		return errs.Invariant("Group.SetParentOfGroup", errInvalid("would create a cycle"))
	}
	if child.parent != nil {
		child.parent.RemoveGroup(child)
	}
	if err := g.AddGroup(child); err != nil {
		return err
	}
	child.Time.LocationChanged = now
	return nil
}

func (g *Group) setDatabaseRecursive(db *Database) {
	g.db = db
	for _, e := range g.entries {
		e.db = db
	}
	for _, c := range g.children {
		c.setDatabaseRecursive(db)
	}
}

// FindEntryByUUID searches g and its descendants (not g.entries' history)
// for an entry with the given UUID.
func (g *Group) FindEntryByUUID(id uuid.UUID) *Entry {
	for _, e := range g.entries {
		if e.UUID == id {
			return e
		}
	}
	for _, c := range g.children {
		if e := c.FindEntryByUUID(id); e != nil {
			return e
		}
	}
	return nil
}

// FindGroupByUUID searches g and its descendants for a group with the
// given UUID, including g itself.
func (g *Group) FindGroupByUUID(id uuid.UUID) *Group {
	if g.UUID == id {
		return g
	}
	for _, c := range g.children {
		if found := c.FindGroupByUUID(id); found != nil {
			return found
		}
	}
	return nil
}

// FindChildByName returns the first direct child group named name, or nil.
func (g *Group) FindChildByName(name string) *Group {
	for _, c := range g.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindGroupByPath resolves a slash-delimited path of group names relative
// to g, e.g. "Banking/Checking". An empty path returns g.
func (g *Group) FindGroupByPath(path string) *Group {
	path = strings.Trim(path, "/")
	if path == "" {
		return g
	}
	cur := g
	for _, part := range strings.Split(path, "/") {
		cur = cur.FindChildByName(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// FindEntryByPath resolves a slash-delimited path whose last component is
// an entry title and whose preceding components are group names, e.g.
// "Banking/Checking/Ops Account".
func (g *Group) FindEntryByPath(path string) *Entry {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	groupPath, title := parts[:len(parts)-1], parts[len(parts)-1]
	group := g.FindGroupByPath(strings.Join(groupPath, "/"))
	if group == nil {
		return nil
	}
	for _, e := range group.entries {
		if e.Title() == title {
			return e
		}
	}
	return nil
}

// Locate returns the hierarchy paths of every group and entry under g
// (including g) whose name/title contains term, case-insensitively — a
// linear scan, not an index.
func (g *Group) Locate(term string) []string {
	term = strings.ToLower(term)
	var out []string
	g.locateRecursive(term, "/", &out)
	return out
}

func (g *Group) locateRecursive(term, prefix string, out *[]string) {
	path := prefix + g.Name
	if strings.Contains(strings.ToLower(g.Name), term) {
		*out = append(*out, path)
	}
	for _, e := range g.entries {
		if strings.Contains(strings.ToLower(e.Title()), term) {
			*out = append(*out, path+"/"+e.Title())
		}
	}
	for _, c := range g.children {
		c.locateRecursive(term, path+"/", out)
	}
}

// EntriesRecursive returns every entry under g (including g.entries),
// depth-first. If includeHistory is true, history snapshots are included
// too.
func (g *Group) EntriesRecursive(includeHistory bool) []*Entry {
	var out []*Entry
	g.entriesRecursive(includeHistory, &out)
	return out
}

func (g *Group) entriesRecursive(includeHistory bool, out *[]*Entry) {
	for _, e := range g.entries {
		*out = append(*out, e)
		if includeHistory {
			*out = append(*out, e.History...)
		}
	}
	for _, c := range g.children {
		c.entriesRecursive(includeHistory, out)
	}
}

// GroupsRecursive returns g's descendant groups, depth-first, optionally
// including g itself.
func (g *Group) GroupsRecursive(includeSelf bool) []*Group {
	var out []*Group
	if includeSelf {
		out = append(out, g)
	}
	for _, c := range g.children {
		out = append(out, c.GroupsRecursive(true)...)
	}
	return out
}

// ResolveSearchingEnabled walks up the parent chain resolving
// SearchingEnabled, defaulting to Enable if every ancestor says Inherit.
func (g *Group) ResolveSearchingEnabled() bool {
	return resolveTriState(g, func(gr *Group) TriState { return gr.SearchingEnabled })
}

// ResolveAutoTypeEnabled walks up the parent chain resolving
// AutoTypeEnabled, defaulting to Enable if every ancestor says Inherit.
func (g *Group) ResolveAutoTypeEnabled() bool {
	return resolveTriState(g, func(gr *Group) TriState { return gr.AutoTypeEnabled })
}

func resolveTriState(g *Group, pick func(*Group) TriState) bool {
	for cur := g; cur != nil; cur = cur.parent {
		switch pick(cur) {
		case Enable:
			return true
		case Disable:
			return false
		}
	}
	return true
}

// ResolveMergeMode walks up the parent chain resolving MergeModePref,
// defaulting to Synchronize if every ancestor says MergeDefault.
func (g *Group) ResolveMergeMode() MergeMode {
	for cur := g; cur != nil; cur = cur.parent {
		if cur.MergeModePref != MergeDefault {
			return cur.MergeModePref
		}
	}
	return MergeSynchronize
}

// EffectiveAutoTypeSequence returns g's DefaultAutoTypeSequence, or the
// nearest ancestor's non-empty sequence if g's is empty.
func (g *Group) EffectiveAutoTypeSequence() string {
	for cur := g; cur != nil; cur = cur.parent {
		if cur.DefaultAutoTypeSequence != "" {
			return cur.DefaultAutoTypeSequence
		}
	}
	return ""
}

// CloneFlags controls what Group.Clone copies.
type CloneFlags int

const (
	CloneNoFlags         CloneFlags = 0
	CloneNewUUID         CloneFlags = 1 << 0
	CloneResetTimeInfo   CloneFlags = 1 << 1
	CloneIncludeEntries  CloneFlags = 1 << 2
)

// Clone returns a detached deep copy of g and its descendant groups
// (always), optionally with fresh UUIDs, reset timestamps, and entries
// included.
func (g *Group) Clone(flags CloneFlags, now time.Time) *Group {
	clone := &Group{
		UUID:                    g.UUID,
		Name:                    g.Name,
		Notes:                   g.Notes,
		IconNumber:              g.IconNumber,
		CustomIcon:              g.CustomIcon,
		Time:                    g.Time,
		IsExpanded:              g.IsExpanded,
		DefaultAutoTypeSequence: g.DefaultAutoTypeSequence,
		AutoTypeEnabled:         g.AutoTypeEnabled,
		SearchingEnabled:        g.SearchingEnabled,
		InheritEnabled:          g.InheritEnabled,
		MergeModePref:           g.MergeModePref,
		CustomData:              g.CustomData.Clone(),
	}
	if flags&CloneNewUUID != 0 {
		clone.UUID = uuid.New()
	}
	if flags&CloneResetTimeInfo != 0 {
		clone.Time = NewTimeInfo(now)
	}
	if flags&CloneIncludeEntries != 0 {
		for _, e := range g.entries {
			ec := e.Clone(flags&CloneNewUUID != 0)
			ec.parent = clone
			clone.entries = append(clone.entries, ec)
		}
	}
	for _, c := range g.children {
		cc := c.Clone(flags, now)
		cc.parent = clone
		clone.children = append(clone.children, cc)
	}
	return clone
}

func indexOfEntry(list []*Entry, e *Entry) int {
	for i, v := range list {
		if v == e {
			return i
		}
	}
	return -1
}

func indexOfGroup(list []*Group, g *Group) int {
	for i, v := range list {
		if v == g {
			return i
		}
	}
	return -1
}
