// Package xmltree maps the in-memory domain model to and from the
// decrypted payload's XML document. Protected attribute values are kept
// XOR'd against the inner random stream's keystream while they live in
// the XML text content; Marshal and Unmarshal walk the tree in identical
// depth-first order so the keystream advances in lockstep on both sides,
// preserving the format's load-bearing "same order on read and write"
// invariant for protected fields.
package xmltree

import (
	"encoding/base64"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/errs"
	"vaultkeep/internal/model"
)

type xDatabase struct {
	XMLName xml.Name `xml:"KeePassFile"`
	Meta    xMeta    `xml:"Meta"`
	Root    xRoot    `xml:"Root"`
}

type xMeta struct {
	Generator              string       `xml:"Generator"`
	DatabaseName           string       `xml:"DatabaseName"`
	DatabaseNameChanged    time.Time    `xml:"DatabaseNameChanged"`
	DatabaseDescription    string       `xml:"DatabaseDescription"`
	DefaultUserName        string       `xml:"DefaultUserName"`
	RecycleBinEnabled      bool         `xml:"RecycleBinEnabled"`
	RecycleBinUUID         string       `xml:"RecycleBinUUID"`
	HistoryMaxItems        int          `xml:"HistoryMaxItems"`
	HistoryMaxSize         int64        `xml:"HistoryMaxSize"`
	CustomData             []xCustomItem `xml:"CustomData>Item"`
}

type xCustomItem struct {
	Key          string     `xml:"Key"`
	Value        string     `xml:"Value"`
	LastModified *time.Time `xml:"LastModificationTime"`
}

type xRoot struct {
	Group          xGroup            `xml:"Group"`
	DeletedObjects []xDeletedObject  `xml:"DeletedObjects>DeletedObject"`
}

type xDeletedObject struct {
	UUID         string    `xml:"UUID"`
	DeletionTime time.Time `xml:"DeletionTime"`
}

type xTimes struct {
	CreationTime     time.Time `xml:"CreationTime"`
	LastModification time.Time `xml:"LastModificationTime"`
	LastAccess       time.Time `xml:"LastAccessTime"`
	ExpiryTime       time.Time `xml:"ExpiryTime"`
	Expires          bool      `xml:"Expires"`
	UsageCount       uint32    `xml:"UsageCount"`
	LocationChanged  time.Time `xml:"LocationChanged"`
}

type xGroup struct {
	UUID                    string    `xml:"UUID"`
	Name                    string    `xml:"Name"`
	Notes                   string    `xml:"Notes"`
	IconID                  int       `xml:"IconID"`
	Times                   xTimes    `xml:"Times"`
	IsExpanded              bool      `xml:"IsExpanded"`
	DefaultAutoTypeSequence string    `xml:"DefaultAutoTypeSequence"`
	EnableAutoType          string    `xml:"EnableAutoType"`
	EnableSearching         string    `xml:"EnableSearching"`
	MergeMode               int       `xml:"MergeMode"`
	Group                   []xGroup  `xml:"Group"`
	Entry                   []xEntry  `xml:"Entry"`
}

type xEntry struct {
	UUID     string      `xml:"UUID"`
	IconID   int         `xml:"IconID"`
	Times    xTimes      `xml:"Times"`
	Tags     string      `xml:"Tags"`
	String   []xString   `xml:"String"`
	Binary   []xBinary   `xml:"Binary"`
	AutoType []xAutoType `xml:"AutoType>Association"`
	History  []xEntry    `xml:"History>Entry"`
}

type xString struct {
	Key   string      `xml:"Key"`
	Value xStringValue `xml:"Value"`
}

type xStringValue struct {
	Protected string `xml:"Protected,attr,omitempty"`
	Text      string `xml:",chardata"`
}

// xBinary references the decrypted payload's binary pool by index rather
// than carrying the attachment bytes inline, matching the real KDBX4
// "binary blobs indexed by position" layout: the bytes themselves live
// once in the inner header's pool (kdbx4.collectBinaries), and every
// entry attachment is just a Key plus a Ref into that pool.
type xBinary struct {
	Key   string       `xml:"Key"`
	Value xBinaryValue `xml:"Value"`
}

type xBinaryValue struct {
	Ref string `xml:"Ref,attr"`
}

type xAutoType struct {
	Window   string `xml:"Window"`
	Sequence string `xml:"KeystrokeSequence"`
}

// Marshal serializes db into the KeePassFile XML document, XOR-encoding
// every protected attribute against stream in document order before
// base64-encoding it as the field's text content. binaryIndex maps each
// attachment's content hash to its position in the inner header's binary
// pool (kdbx4.collectBinaries); every attachment is written as a Ref into
// that pool rather than inline, so its bytes live exactly once in the
// encrypted payload.
func Marshal(db *model.Database, stream cryptoprim.InnerStream, binaryIndex map[[32]byte]int) ([]byte, error) {
	xdb := xDatabase{
		Meta: xMeta{
			Generator:           "vaultkeep",
			DatabaseName:        db.Metadata.Name,
			DatabaseNameChanged: db.Metadata.NameChanged,
			DatabaseDescription: db.Metadata.Description,
			DefaultUserName:     db.Metadata.DefaultUserName,
			RecycleBinEnabled:   db.Metadata.RecycleBinEnabled,
			RecycleBinUUID:      uuidToString(db.Metadata.RecycleBinUUID),
			HistoryMaxItems:     db.Metadata.HistoryMaxItems,
			HistoryMaxSize:      db.Metadata.HistoryMaxSize,
			CustomData:          marshalCustomData(db.Metadata.CustomData),
		},
	}
	root := db.Root()
	xg, err := marshalGroup(root, stream, binaryIndex)
	if err != nil {
		return nil, errs.Format("xmltree.Marshal", err)
	}
	xdb.Root.Group = xg
	for _, d := range db.DeletedObjects {
		xdb.Root.DeletedObjects = append(xdb.Root.DeletedObjects, xDeletedObject{
			UUID:         d.UUID.String(),
			DeletionTime: d.DeletionTime,
		})
	}

	out, err := xml.MarshalIndent(xdb, "", "  ")
	if err != nil {
		return nil, errs.Format("xmltree.Marshal", errors.Wrap(err, "marshaling xml"))
	}
	return append([]byte(xml.Header), out...), nil
}

func marshalGroup(g *model.Group, stream cryptoprim.InnerStream, binaryIndex map[[32]byte]int) (xGroup, error) {
	xg := xGroup{
		UUID:                    g.UUID.String(),
		Name:                    g.Name,
		Notes:                   g.Notes,
		IconID:                  g.IconNumber,
		Times:                   marshalTimes(g.Time),
		IsExpanded:              g.IsExpanded,
		DefaultAutoTypeSequence: g.DefaultAutoTypeSequence,
		EnableAutoType:          triStateString(g.AutoTypeEnabled),
		EnableSearching:         triStateString(g.SearchingEnabled),
		MergeMode:               int(g.MergeModePref),
	}
	for _, e := range g.Entries() {
		xe, err := marshalEntry(e, stream, binaryIndex)
		if err != nil {
			return xGroup{}, err
		}
		xg.Entry = append(xg.Entry, xe)
	}
	for _, c := range g.Children() {
		xc, err := marshalGroup(c, stream, binaryIndex)
		if err != nil {
			return xGroup{}, err
		}
		xg.Group = append(xg.Group, xc)
	}
	return xg, nil
}

func marshalEntry(e *model.Entry, stream cryptoprim.InnerStream, binaryIndex map[[32]byte]int) (xEntry, error) {
	xe := xEntry{
		UUID:   e.UUID.String(),
		IconID: e.IconNumber,
		Times:  marshalTimes(e.Time),
		Tags:   joinTags(e.Tags),
	}
	for _, key := range sortedAttrKeys(e) {
		attr := e.Attributes[key]
		text := attr.Value
		protected := ""
		if attr.Protected {
			ciphered := make([]byte, len(attr.Value))
			stream.XOR(ciphered, []byte(attr.Value))
			text = base64.StdEncoding.EncodeToString(ciphered)
			protected = "True"
		}
		xe.String = append(xe.String, xString{Key: key, Value: xStringValue{Protected: protected, Text: text}})
	}
	for _, name := range sortedAttachmentKeys(e) {
		att := e.Attachments[name]
		idx, ok := binaryIndex[att.Hash]
		if !ok {
			return xEntry{}, errors.New("attachment " + name + " missing from binary pool")
		}
		xe.Binary = append(xe.Binary, xBinary{Key: name, Value: xBinaryValue{Ref: strconv.Itoa(idx)}})
	}
	for _, a := range e.AutoType {
		xe.AutoType = append(xe.AutoType, xAutoType{Window: a.Window, Sequence: a.Sequence})
	}
	for _, h := range e.History {
		xh, err := marshalEntry(h, stream, binaryIndex)
		if err != nil {
			return xEntry{}, err
		}
		xe.History = append(xe.History, xh)
	}
	return xe, nil
}

func marshalTimes(t model.TimeInfo) xTimes {
	return xTimes{
		CreationTime:     t.CreationTime,
		LastModification: t.LastModification,
		LastAccess:       t.LastAccess,
		ExpiryTime:       t.ExpiryTime,
		Expires:          t.Expires,
		UsageCount:       t.UsageCount,
		LocationChanged:  t.LocationChanged,
	}
}

func marshalCustomData(cd model.CustomData) []xCustomItem {
	var out []xCustomItem
	for _, key := range sortedCustomDataKeys(cd) {
		item := cd[key]
		out = append(out, xCustomItem{Key: key, Value: item.Value, LastModified: item.LastModified})
	}
	return out
}

// Unmarshal parses data as a KeePassFile document, XOR-decoding every
// protected attribute against stream in the same document order Marshal
// used, and builds a fresh Database from the result. now is used for
// timestamps on anything the document doesn't specify. binaries is the
// inner header's binary pool (kdbx4.InnerHeader.Binaries); every entry's
// Binary elements resolve against it by Ref index. Pass nil when no pool
// is available (kdbx3's legacy format never populates one) — a document
// with no attachments still unmarshals cleanly, and one with an actual
// Ref fails with a corruption error rather than silently dropping data.
func Unmarshal(data []byte, stream cryptoprim.InnerStream, now time.Time, binaries [][]byte) (*model.Database, error) {
	var xdb xDatabase
	if err := xml.Unmarshal(data, &xdb); err != nil {
		return nil, errs.Corruption("xmltree.Unmarshal", errors.Wrap(err, "parsing xml"))
	}

	db := model.NewDatabase(now)
	db.SetEmitModified(false)
	defer db.SetEmitModified(true)

	db.Metadata.Name = xdb.Meta.DatabaseName
	db.Metadata.NameChanged = xdb.Meta.DatabaseNameChanged
	db.Metadata.Description = xdb.Meta.DatabaseDescription
	db.Metadata.DefaultUserName = xdb.Meta.DefaultUserName
	db.Metadata.RecycleBinEnabled = xdb.Meta.RecycleBinEnabled
	db.Metadata.RecycleBinUUID = parseUUID(xdb.Meta.RecycleBinUUID)
	db.Metadata.HistoryMaxItems = xdb.Meta.HistoryMaxItems
	db.Metadata.HistoryMaxSize = xdb.Meta.HistoryMaxSize
	db.Metadata.CustomData = unmarshalCustomData(xdb.Meta.CustomData)

	root, err := unmarshalGroup(xdb.Root.Group, stream, binaries)
	if err != nil {
		return nil, errs.Corruption("xmltree.Unmarshal", err)
	}
	if err := attachRoot(db, root); err != nil {
		return nil, errs.Invariant("xmltree.Unmarshal", err)
	}

	for _, d := range xdb.Root.DeletedObjects {
		db.AddDeletedObject(parseUUID(d.UUID), d.DeletionTime)
	}

	return db, nil
}

func unmarshalGroup(xg xGroup, stream cryptoprim.InnerStream, binaries [][]byte) (*model.Group, error) {
	g := model.NewGroup(xg.Times.CreationTime)
	g.UUID = parseUUID(xg.UUID)
	g.Name = xg.Name
	g.Notes = xg.Notes
	g.IconNumber = xg.IconID
	g.Time = unmarshalTimes(xg.Times)
	g.IsExpanded = xg.IsExpanded
	g.DefaultAutoTypeSequence = xg.DefaultAutoTypeSequence
	g.AutoTypeEnabled = parseTriState(xg.EnableAutoType)
	g.SearchingEnabled = parseTriState(xg.EnableSearching)
	g.MergeModePref = model.MergeMode(xg.MergeMode)

	for _, xe := range xg.Entry {
		e, err := unmarshalEntry(xe, stream, binaries)
		if err != nil {
			return nil, err
		}
		if err := g.AddEntry(e); err != nil {
			return nil, err
		}
	}
	for _, xc := range xg.Group {
		c, err := unmarshalGroup(xc, stream, binaries)
		if err != nil {
			return nil, err
		}
		if err := g.AddGroup(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func unmarshalEntry(xe xEntry, stream cryptoprim.InnerStream, binaries [][]byte) (*model.Entry, error) {
	e := model.NewEntry(xe.Times.CreationTime)
	e.UUID = parseUUID(xe.UUID)
	e.IconNumber = xe.IconID
	e.Time = unmarshalTimes(xe.Times)
	e.Tags = splitTags(xe.Tags)

	for _, xs := range xe.String {
		value := xs.Value.Text
		protected := xs.Value.Protected == "True"
		if protected {
			raw, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return nil, errors.Wrap(err, "decoding protected value")
			}
			plain := make([]byte, len(raw))
			stream.XOR(plain, raw)
			value = string(plain)
		}
		e.Attributes[xs.Key] = model.Attribute{Value: value, Protected: protected}
	}
	for _, xb := range xe.Binary {
		idx, err := strconv.Atoi(xb.Value.Ref)
		if err != nil {
			return nil, errors.Wrap(err, "parsing attachment ref")
		}
		if idx < 0 || idx >= len(binaries) {
			return nil, errors.New("attachment ref out of range in binary pool")
		}
		raw := binaries[idx]
		e.Attachments[xb.Key] = model.Attachment{Name: xb.Key, Data: raw, Hash: cryptoprim.SHA256(raw)}
	}
	for _, xa := range xe.AutoType {
		e.AutoType = append(e.AutoType, model.AutoTypeAssociation{Window: xa.Window, Sequence: xa.Sequence})
	}
	for _, xh := range xe.History {
		h, err := unmarshalEntry(xh, stream, binaries)
		if err != nil {
			return nil, err
		}
		e.History = append(e.History, h)
	}
	return e, nil
}

func unmarshalTimes(xt xTimes) model.TimeInfo {
	return model.TimeInfo{
		CreationTime:     xt.CreationTime,
		LastModification: xt.LastModification,
		LastAccess:       xt.LastAccess,
		ExpiryTime:       xt.ExpiryTime,
		Expires:          xt.Expires,
		UsageCount:       xt.UsageCount,
		LocationChanged:  xt.LocationChanged,
	}
}

func unmarshalCustomData(items []xCustomItem) model.CustomData {
	cd := model.CustomData{}
	for _, it := range items {
		cd[it.Key] = model.CustomDataItem{Value: it.Value, LastModified: it.LastModified}
	}
	return cd
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func uuidToString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func triStateString(t model.TriState) string {
	switch t {
	case model.Enable:
		return "true"
	case model.Disable:
		return "false"
	default:
		return "null"
	}
}

func parseTriState(s string) model.TriState {
	switch s {
	case "true":
		return model.Enable
	case "false":
		return model.Disable
	default:
		return model.Inherit
	}
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ";"
		}
		out += t
	}
	return out
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ';' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func sortedAttrKeys(e *model.Entry) []string {
	order := []string{model.AttrTitle, model.AttrUserName, model.AttrPassword, model.AttrURL, model.AttrNotes}
	seen := map[string]bool{}
	for _, k := range order {
		seen[k] = true
	}
	keys := append([]string(nil), order...)
	for k := range e.Attributes {
		if !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	return keys
}

func sortedAttachmentKeys(e *model.Entry) []string {
	keys := make([]string, 0, len(e.Attachments))
	for k := range e.Attachments {
		keys = append(keys, k)
	}
	return keys
}

func sortedCustomDataKeys(cd model.CustomData) []string {
	keys := make([]string, 0, len(cd))
	for k := range cd {
		keys = append(keys, k)
	}
	return keys
}

// attachRoot installs root as db's root group, replacing the empty one
// NewDatabase created, preserving db's Identity and Metadata set so far.
func attachRoot(db *model.Database, root *model.Group) error {
	return model.ReplaceRoot(db, root)
}
