// Command vaultkeep is the reference CLI collaborator for the encrypted
// password database core: a flag-subcommand interface in the style of
// the teacher's cmd/vaultctl, driving internal/store, internal/model,
// internal/merge, internal/generator, and internal/totp. Password prompts
// use golang.org/x/term for masked stdin input, grounded on
// dmitrijs2005-gophkeeper's internal/client/cli input helpers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"vaultkeep/internal/ckey"
	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/generator"
	"vaultkeep/internal/kdf"
	"vaultkeep/internal/merge"
	"vaultkeep/internal/model"
	"vaultkeep/internal/platform"
	"vaultkeep/internal/store"
	"vaultkeep/internal/totp"
)

func main() {
	_ = platform.DisableCoreDumps()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "add":
		err = runAdd(os.Args[2:])
	case "edit":
		err = runEdit(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "ls":
		err = runLs(os.Args[2:])
	case "locate":
		err = runLocate(os.Args[2:])
	case "rm":
		err = runRm(os.Args[2:])
	case "merge":
		err = runMerge(os.Args[2:])
	case "extract":
		err = runExtract(os.Args[2:])
	case "clip":
		err = runClip(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`vaultkeep commands:

  create  --db path.kdbx [--argon2 | --aeskdf] [--keyfile path]
  add     --db path.kdbx --title T [--user U] [--pass P|gen:N] [--url U] [--group /path]
  edit    --db path.kdbx --uuid U [--title T] [--user U] [--pass P] [--url U] [--notes N]
  show    --db path.kdbx --uuid U
  ls      --db path.kdbx [--group /path]
  locate  --db path.kdbx --term TEXT
  rm      --db path.kdbx --uuid U [--permanent]
  merge   --target path.kdbx --source path.kdbx [--backup]
  extract --db path.kdbx --uuid U --attachment NAME --out FILE
  clip    --db path.kdbx --uuid U [--field Password|UserName] [--ttl 15s]

Every subcommand prompts for the database's master password on stdin.
`)
}

// openDB unlocks the database at path with a password-only composite key
// (the reference CLI does not wire keyfile/challenge-response components
// by default; add --keyfile to extend the composite). The composite key
// is returned alongside the result since Save takes it as an explicit
// argument to re-encrypt.
func openDB(ctx context.Context, path, keyfilePath string) (*store.OpenResult, *ckey.CompositeKey, error) {
	pw, err := promptPassword("Master password: ")
	if err != nil {
		return nil, nil, err
	}
	defer zero(pw)

	comps := []ckey.Component{ckey.NewPasswordComponent(string(pw))}
	if keyfilePath != "" {
		comps = append(comps, ckey.NewKeyFileComponent(keyfilePath))
	}
	composite := ckey.New(comps...)
	res, err := store.Open(ctx, path, composite)
	if err != nil {
		return nil, nil, err
	}
	return res, composite, nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to new database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	useArgon2 := fs.Bool("argon2", false, "use Argon2 KDF (default)")
	useAESKDF := fs.Bool("aeskdf", false, "use legacy AES-KDF instead of Argon2")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("create: --db is required")
	}

	pw, err := promptPasswordConfirm()
	if err != nil {
		return err
	}
	defer zero(pw)

	comps := []ckey.Component{ckey.NewPasswordComponent(string(pw))}
	if *keyfilePath != "" {
		comps = append(comps, ckey.NewKeyFileComponent(*keyfilePath))
	}
	composite := ckey.New(comps...)

	now := time.Now()
	db := model.NewDatabase(now)
	db.Metadata.Name = "New Database"

	var derive kdf.KDF
	if *useAESKDF && !*useArgon2 {
		derive, err = kdf.NewAESKDF(600_000)
	} else {
		derive, err = kdf.DefaultArgon2KDF()
	}
	if err != nil {
		return err
	}
	db.Data.Cipher = cryptoprim.CipherChaCha20
	db.Data.CompressionGzip = true

	ctx := context.Background()
	if err := store.Save(ctx, db, *dbPath, composite, derive, store.SaveOptions{}); err != nil {
		return err
	}
	fmt.Println("created", *dbPath)
	return nil
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	title := fs.String("title", "", "entry title")
	user := fs.String("user", "", "username")
	pass := fs.String("pass", "", "password, or gen:N to generate N characters")
	url := fs.String("url", "", "URL")
	group := fs.String("group", "", "slash-delimited group path, default root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *title == "" {
		return fmt.Errorf("add: --db and --title are required")
	}

	ctx := context.Background()
	res, composite, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	db := res.Database

	dest := db.Root()
	if *group != "" {
		dest = db.Root().FindGroupByPath(*group)
		if dest == nil {
			return fmt.Errorf("add: group %q not found", *group)
		}
	}

	password := *pass
	if strings.HasPrefix(password, "gen:") {
		n := 20
		fmt.Sscanf(password, "gen:%d", &n)
		password, err = generator.Password(generator.Options{Length: n, Charsets: generator.DefaultCharsets})
		if err != nil {
			return err
		}
	}

	now := time.Now()
	e := model.NewEntry(now)
	e.SetAttr(model.AttrTitle, *title)
	e.SetAttr(model.AttrUserName, *user)
	e.SetAttr(model.AttrPassword, password)
	e.SetAttr(model.AttrURL, *url)
	if err := dest.AddEntry(e); err != nil {
		return err
	}

	if err := store.Save(ctx, db, *dbPath, composite, res.KDF, store.SaveOptions{Backup: true}); err != nil {
		return err
	}
	fmt.Println("added", e.UUID)
	return nil
}

func runEdit(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	idStr := fs.String("uuid", "", "entry UUID")
	title := fs.String("title", "", "new title, unchanged if empty")
	user := fs.String("user", "", "new username")
	pass := fs.String("pass", "", "new password")
	url := fs.String("url", "", "new URL")
	notes := fs.String("notes", "", "new notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*idStr)
	if err != nil {
		return fmt.Errorf("edit: %w", err)
	}

	ctx := context.Background()
	res, composite, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	db := res.Database

	e := db.Root().FindEntryByUUID(id)
	if e == nil {
		return fmt.Errorf("edit: no entry %s", id)
	}

	snapshot := e.Clone(false)
	e.PushHistory(snapshot, &db.Metadata)
	now := time.Now()
	if *title != "" {
		e.SetAttr(model.AttrTitle, *title)
	}
	if *user != "" {
		e.SetAttr(model.AttrUserName, *user)
	}
	if *pass != "" {
		e.SetAttr(model.AttrPassword, *pass)
	}
	if *url != "" {
		e.SetAttr(model.AttrURL, *url)
	}
	if *notes != "" {
		e.SetAttr(model.AttrNotes, *notes)
	}
	e.Time.Touch(now, false)

	if err := store.Save(ctx, db, *dbPath, composite, res.KDF, store.SaveOptions{Backup: true}); err != nil {
		return err
	}
	fmt.Println("edited", e.UUID)
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	idStr := fs.String("uuid", "", "entry UUID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*idStr)
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}

	ctx := context.Background()
	res, _, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	db := res.Database

	e := db.Root().FindEntryByUUID(id)
	if e == nil {
		return fmt.Errorf("show: no entry %s", id)
	}

	fmt.Printf("UUID:     %s\n", e.UUID)
	fmt.Printf("Title:    %s\n", model.ResolveEntryField(db.Root(), e.Attr(model.AttrTitle)))
	fmt.Printf("Username: %s\n", model.ResolveEntryField(db.Root(), e.Attr(model.AttrUserName)))
	fmt.Printf("Password: %s\n", model.ResolveEntryField(db.Root(), e.Attr(model.AttrPassword)))
	fmt.Printf("URL:      %s\n", model.ResolveEntryField(db.Root(), e.Attr(model.AttrURL)))
	if notes := e.Attr(model.AttrNotes); notes != "" {
		fmt.Printf("Notes:    %s\n", notes)
	}
	if s, ok := totp.Decode(e); ok {
		code, err := totp.Code(s, time.Now())
		if err == nil {
			fmt.Printf("TOTP:     %s\n", code)
		}
	}
	return nil
}

func runLs(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	group := fs.String("group", "", "slash-delimited group path, default root")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	res, _, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	db := res.Database

	root := db.Root()
	if *group != "" {
		root = db.Root().FindGroupByPath(*group)
		if root == nil {
			return fmt.Errorf("ls: group %q not found", *group)
		}
	}
	for _, g := range root.Children() {
		fmt.Printf("%s/\n", g.Name)
	}
	for _, e := range root.Entries() {
		fmt.Printf("%s\t%s\n", e.UUID, e.Title())
	}
	return nil
}

func runLocate(args []string) error {
	fs := flag.NewFlagSet("locate", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	term := fs.String("term", "", "substring to search titles for")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	res, _, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	for _, path := range res.Database.Root().Locate(*term) {
		fmt.Println(path)
	}
	return nil
}

func runRm(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	idStr := fs.String("uuid", "", "entry UUID")
	permanent := fs.Bool("permanent", false, "bypass the recycle bin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*idStr)
	if err != nil {
		return fmt.Errorf("rm: %w", err)
	}

	ctx := context.Background()
	res, composite, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	db := res.Database

	e := db.Root().FindEntryByUUID(id)
	if e == nil {
		return fmt.Errorf("rm: no entry %s", id)
	}
	now := time.Now()
	if *permanent {
		db.DeleteEntry(e, now)
	} else {
		db.RecycleEntry(e, now)
	}

	if err := store.Save(ctx, db, *dbPath, composite, res.KDF, store.SaveOptions{Backup: true}); err != nil {
		return err
	}
	fmt.Println("removed", id)
	return nil
}

func runMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	targetPath := fs.String("target", "", "database to merge into, mutated in place")
	sourcePath := fs.String("source", "", "read-only database to merge from")
	backup := fs.Bool("backup", true, "back up target before saving")
	modeStr := fs.String("mode", "default", "override merge mode: default, duplicate, keep-local, keep-remote, keep-newer, synchronize")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *targetPath == "" || *sourcePath == "" {
		return fmt.Errorf("merge: --target and --source are required")
	}
	mode, err := parseMergeMode(*modeStr)
	if err != nil {
		return err
	}

	ctx := context.Background()
	fmt.Println("Target database:")
	target, targetComposite, err := openDB(ctx, *targetPath, "")
	if err != nil {
		return err
	}
	fmt.Println("Source database:")
	source, _, err := openDB(ctx, *sourcePath, "")
	if err != nil {
		return err
	}

	summary := merge.Merge(target.Database, source.Database, time.Now(), mode)

	if err := store.Save(ctx, target.Database, *targetPath, targetComposite, target.KDF, store.SaveOptions{Backup: *backup}); err != nil {
		return err
	}
	fmt.Printf("merged %s into %s: %d groups added, %d entries added, %d entries reconciled, %d duplicated, %d tombstones applied\n",
		*sourcePath, *targetPath, summary.GroupsAdded, summary.EntriesAdded, summary.EntriesReconciled, summary.EntriesDuplicated, summary.TombstonesApplied)
	return nil
}

func parseMergeMode(s string) (model.MergeMode, error) {
	switch s {
	case "default":
		return model.MergeDefault, nil
	case "duplicate":
		return model.MergeDuplicate, nil
	case "keep-local":
		return model.MergeKeepLocal, nil
	case "keep-remote":
		return model.MergeKeepRemote, nil
	case "keep-newer":
		return model.MergeKeepNewer, nil
	case "synchronize":
		return model.MergeSynchronize, nil
	default:
		return model.MergeDefault, fmt.Errorf("merge: unknown --mode %q", s)
	}
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	idStr := fs.String("uuid", "", "entry UUID")
	attachment := fs.String("attachment", "", "attachment name")
	out := fs.String("out", "", "output file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*idStr)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if *attachment == "" || *out == "" {
		return fmt.Errorf("extract: --attachment and --out are required")
	}

	ctx := context.Background()
	res, _, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	e := res.Database.Root().FindEntryByUUID(id)
	if e == nil {
		return fmt.Errorf("extract: no entry %s", id)
	}
	att, ok := e.Attachments[*attachment]
	if !ok {
		return fmt.Errorf("extract: no attachment %q on entry %s", *attachment, id)
	}
	return os.WriteFile(*out, att.Data, 0600)
}

func runClip(args []string) error {
	fs := flag.NewFlagSet("clip", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to database file")
	keyfilePath := fs.String("keyfile", "", "optional keyfile path")
	idStr := fs.String("uuid", "", "entry UUID")
	field := fs.String("field", "Password", "attribute to copy")
	ttl := fs.Duration("ttl", 15*time.Second, "clipboard auto-clear delay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*idStr)
	if err != nil {
		return fmt.Errorf("clip: %w", err)
	}

	ctx := context.Background()
	res, _, err := openDB(ctx, *dbPath, *keyfilePath)
	if err != nil {
		return err
	}
	e := res.Database.Root().FindEntryByUUID(id)
	if e == nil {
		return fmt.Errorf("clip: no entry %s", id)
	}
	value := model.ResolveEntryField(res.Database.Root(), e.Attr(*field))

	clip := platform.NewTimedClipboard(platform.NewClipboard())
	if err := clip.Set(value, *ttl); err != nil {
		return err
	}
	fmt.Printf("copied %s, clearing in %s\n", *field, *ttl)
	return nil
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func promptPasswordConfirm() ([]byte, error) {
	pw, err := promptPassword("New master password: ")
	if err != nil {
		return nil, err
	}
	confirm, err := promptPassword("Confirm master password: ")
	if err != nil {
		zero(pw)
		return nil, err
	}
	defer zero(confirm)
	if string(pw) != string(confirm) {
		zero(pw)
		return nil, fmt.Errorf("passwords did not match")
	}
	return pw, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
