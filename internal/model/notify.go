package model

import "time"

// NotificationKind identifies which structural change an Observer is being
// told about.
type NotificationKind int

const (
	EntryAboutToAdd NotificationKind = iota
	EntryAdded
	EntryAboutToRemove
	EntryRemoved
	GroupAboutToAdd
	GroupAdded
	GroupAboutToRemove
	GroupRemoved
	Modified
)

// Notification is dispatched synchronously to every registered Observer.
// Entry/Group hold the affected object for structural events and are nil
// for Modified.
type Notification struct {
	Kind  NotificationKind
	Entry *Entry
	Group *Group
}

// Observer receives synchronous notifications from a Database. Handlers
// must not mutate the database they're observing — dispatch is not
// re-entrant.
type Observer interface {
	OnNotify(Notification)
}

// modifiedDebounce is the minimum interval between two Modified
// notifications raised by the same mutation burst, matching the 150ms
// coalescing window real KeePass-format clients use.
const modifiedDebounce = 150 * time.Millisecond

// Observe registers obs to receive every notification this database
// raises, including debounced Modified events, until Unobserve is called.
func (db *Database) Observe(obs Observer) {
	db.observers = append(db.observers, obs)
}

// Unobserve removes a previously registered Observer.
func (db *Database) Unobserve(obs Observer) {
	for i, o := range db.observers {
		if o == obs {
			db.observers = append(db.observers[:i], db.observers[i+1:]...)
			return
		}
	}
}

func (db *Database) dispatch(n Notification) {
	if db == nil {
		return
	}
	for _, o := range db.observers {
		o.OnNotify(n)
	}
}

// notifyModified coalesces bursts of mutation into at most one Modified
// notification per modifiedDebounce window. There is no background timer:
// a mutation that lands inside the window just sets modifiedPending so
// the *next* call outside the window flushes a single event covering the
// whole burst, per the "monotonic clock checked at each mutation, deferred
// flush" coalescing design for implementations without a built-in timer.
func (db *Database) notifyModified() {
	now := time.Now()
	if !db.lastModifiedAt.IsZero() && now.Sub(db.lastModifiedAt) < modifiedDebounce {
		db.modifiedPending = true
		return
	}
	db.lastModifiedAt = now
	db.modifiedPending = false
	db.dispatch(Notification{Kind: Modified})
}

// FlushModified immediately raises a Modified notification if a mutation
// landed inside the debounce window and hasn't been flushed yet. Callers
// that are about to read database state right after a mutation (e.g. Save)
// should call this first so observers see a consistent final signal.
func (db *Database) FlushModified() {
	if !db.modifiedPending {
		return
	}
	db.modifiedPending = false
	db.lastModifiedAt = time.Now()
	db.dispatch(Notification{Kind: Modified})
}

// NotifyModifiedImmediate raises Modified synchronously, bypassing the
// debounce window, for callers that need observers to see state before the
// debounce would otherwise fire.
func (db *Database) NotifyModifiedImmediate() {
	db.lastModifiedAt = time.Now()
	db.modifiedPending = false
	db.dispatch(Notification{Kind: Modified})
}

func (db *Database) notifyEntryAboutToAdd(e *Entry) { db.dispatch(Notification{Kind: EntryAboutToAdd, Entry: e}) }
func (db *Database) notifyEntryAdded(e *Entry)        { db.dispatch(Notification{Kind: EntryAdded, Entry: e}) }
func (db *Database) notifyEntryAboutToRemove(e *Entry) {
	db.dispatch(Notification{Kind: EntryAboutToRemove, Entry: e})
}
func (db *Database) notifyEntryRemoved(e *Entry) { db.dispatch(Notification{Kind: EntryRemoved, Entry: e}) }

func (db *Database) notifyGroupAboutToAdd(g *Group) { db.dispatch(Notification{Kind: GroupAboutToAdd, Group: g}) }
func (db *Database) notifyGroupAdded(g *Group)        { db.dispatch(Notification{Kind: GroupAdded, Group: g}) }
func (db *Database) notifyGroupAboutToRemove(g *Group) {
	db.dispatch(Notification{Kind: GroupAboutToRemove, Group: g})
}
func (db *Database) notifyGroupRemoved(g *Group) { db.dispatch(Notification{Kind: GroupRemoved, Group: g}) }
