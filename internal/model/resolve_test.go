package model

import (
	"testing"
	"time"
)

func TestResolveEntryFieldSubstitutesReferencedField(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	source := NewEntry(now)
	source.SetAttr(AttrUserName, "alice")
	if err := db.root.AddEntry(source); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	target := NewEntry(now)
	target.SetAttr(AttrUserName, "{REF:U@I:"+source.UUID.String()+"}")
	if err := db.root.AddEntry(target); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	got := ResolveEntryField(db.root, target.Attr(AttrUserName))
	if got != "alice" {
		t.Fatalf("ResolveEntryField: got %q want %q", got, "alice")
	}
}

func TestResolveEntryFieldBreaksCycles(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	a := NewEntry(now)
	b := NewEntry(now)
	if err := db.root.AddEntry(a); err != nil {
		t.Fatalf("AddEntry a: %v", err)
	}
	if err := db.root.AddEntry(b); err != nil {
		t.Fatalf("AddEntry b: %v", err)
	}
	a.SetAttr(AttrPassword, "{REF:P@I:"+b.UUID.String()+"}")
	b.SetAttr(AttrPassword, "{REF:P@I:"+a.UUID.String()+"}")

	got := ResolveEntryField(db.root, a.Attr(AttrPassword))
	if got != a.Attr(AttrPassword) {
		t.Fatalf("expected the raw reference text on cycle, got %q", got)
	}
}

func TestResolveEntryFieldUnknownUUIDLeftLiteral(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	text := "{REF:T@I:00000000-0000-0000-0000-000000000000}"
	got := ResolveEntryField(db.root, text)
	if got != text {
		t.Fatalf("expected unresolved reference left literal, got %q", got)
	}
}
