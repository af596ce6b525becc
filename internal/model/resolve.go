package model

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// refPattern matches {REF:X@I:UUID} placeholders, where X names the field
// being substituted in and I:UUID names the field the match is searched
// by, restricted to a UUID lookup (the only search mode this engine
// implements).
var refPattern = regexp.MustCompile(`(?i)\{REF:([TUPANO])@I:([0-9A-F]{32}|[0-9A-F-]{36})\}`)

// refFieldKeys maps a REF field code to its canonical attribute key.
var refFieldKeys = map[byte]string{
	'T': AttrTitle,
	'U': AttrUserName,
	'P': AttrPassword,
	'A': AttrURL,
	'N': AttrNotes,
}

// ResolveEntryField expands every {REF:X@I:UUID} placeholder found in text
// against root's tree, substituting the referenced entry's X field.
// References that target a nonexistent entry, or that form a cycle back to
// a UUID already being resolved, are left as the raw placeholder text.
func ResolveEntryField(root *Group, text string) string {
	return resolveRec(root, text, map[uuid.UUID]bool{})
}

func resolveRec(root *Group, text string, visited map[uuid.UUID]bool) string {
	return refPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := refPattern.FindStringSubmatch(match)
		fieldCode := byte(strings.ToUpper(groups[1])[0])
		id, err := uuid.Parse(groups[2])
		if err != nil {
			return match
		}
		if visited[id] {
			return match
		}
		target := root.FindEntryByUUID(id)
		if target == nil {
			return match
		}
		key, ok := refFieldKeys[fieldCode]
		if !ok {
			return match
		}
		visited[id] = true
		defer delete(visited, id)
		return resolveRec(root, target.Attr(key), visited)
	})
}
