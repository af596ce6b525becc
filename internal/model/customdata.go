package model

import "time"

// CustomDataItem is one value in a CustomData map, with an optional
// last-modification stamp. KDBX4 added per-key timestamps so merge can
// resolve custom-data conflicts the same way it resolves scalar fields —
// older items (imported from KDBX3.1) may have a nil LastModified.
type CustomDataItem struct {
	Value        string
	LastModified *time.Time
}

// CustomData is a string-keyed map attached to Database, Group, and Entry,
// for extensions (plugins, merge metadata, client bookkeeping) the core
// does not interpret.
type CustomData map[string]CustomDataItem

// Clone returns a deep copy of cd.
func (cd CustomData) Clone() CustomData {
	if cd == nil {
		return nil
	}
	out := make(CustomData, len(cd))
	for k, v := range cd {
		item := v
		if v.LastModified != nil {
			t := *v.LastModified
			item.LastModified = &t
		}
		out[k] = item
	}
	return out
}

// Set stores value under key with the given timestamp.
func (cd CustomData) Set(key, value string, when time.Time) {
	cd[key] = CustomDataItem{Value: value, LastModified: &when}
}
