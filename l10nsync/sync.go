// Package l10nsync imports VRChat localization files into the store.
//
// The localization root holds one folder per string file. Each folder has a
// keys.txt with one key per line and one <lang>.txt per language with the
// matching line for every key.
package l10nsync

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/store"
	"github.com/kawashirov/vrc-localization-checker/task"
)

// KeysFile is the key list in every localization folder. Matched
// case-insensitively.
const KeysFile = "keys.txt"

var langPattern = regexp.MustCompile(`^[a-zA-Z_-]+\.txt$`)

// Store is the part of store.Store the sync pipeline writes to.
type Store interface {
	InsertTranslations(ctx context.Context, rows []store.Translation) (int64, error)
	RefreshViews(ctx context.Context, views ...string) error
}

// Syncer builds the task tree of one sync run.
type Syncer struct {
	root   string
	store  Store
	fileIO *gate.Gate
}

// New creates a Syncer reading from root. An empty root means DefaultRoot.
func New(root string, st Store, gates *gate.Registry) (*Syncer, error) {
	fileIO, err := gates.Get(gate.FileIO)
	if err != nil {
		return nil, err
	}
	if root == "" {
		if root, err = DefaultRoot(); err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving localization folder: %w", err)
	}
	return &Syncer{root: abs, store: st, fileIO: fileIO}, nil
}

// DefaultRoot is the folder the VRChat client writes localization files to
// on Windows: %LOCALAPPDATA%\..\LocalLow\VRChat\VRChat\Localization.
func DefaultRoot() (string, error) {
	appData := os.Getenv("LOCALAPPDATA")
	if appData == "" {
		return "", kerrors.New(kerrors.ErrCodeConfig,
			"localization_folder is not set and %LOCALAPPDATA% is empty")
	}
	return filepath.Join(filepath.Dir(appData), "LocalLow", "VRChat", "VRChat", "Localization"), nil
}

// Root returns the absolute localization folder.
func (s *Syncer) Root() string { return s.root }

// Body is the root task: one folder task per key file, then a refresh of the
// latest translations.
func (s *Syncer) Body() task.Body {
	return task.Group(task.GroupFuncs{
		Prepare: s.findKeys,
		Finalize: func(ctx context.Context, t *task.Task) error {
			t.Logger().Info("Refreshing latest translations")
			if err := s.store.RefreshViews(ctx, store.LatestTranslations); err != nil {
				return err
			}
			t.Logger().Info("Refreshed latest translations")
			return nil
		},
	})
}

func (s *Syncer) findKeys(ctx context.Context, t *task.Task) error {
	log := t.Logger()
	log.Info("Looking for key files", logging.Fields{"root": s.root})

	found := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return t.CheckOrAbort()
		}
		if !strings.EqualFold(d.Name(), KeysFile) {
			return nil
		}
		folder := filepath.Dir(path)
		f := &folderSync{syncer: s, dir: folder, keysPath: path}
		if _, created := t.Spawn(folder, filepath.Base(folder), f.body()); created {
			found++
			log.Info("Found key file", logging.Fields{"path": path})
		}
		return nil
	})
	if err != nil {
		return kerrors.Wrap(err, "scanning localization folder")
	}
	log.Info("Found key files", logging.Fields{"count": found})
	return nil
}

// folderSync imports one localization folder.
type folderSync struct {
	syncer   *Syncer
	dir      string
	keysPath string
	keys     []string
}

func (f *folderSync) body() task.Body {
	return task.Group(task.GroupFuncs{Prepare: f.prepare})
}

func (f *folderSync) prepare(ctx context.Context, t *task.Task) error {
	log := t.Logger()
	log.Info("Syncing folder", logging.Fields{"path": f.dir})

	err := f.syncer.fileIO.Do(ctx, func(ctx context.Context) error {
		keys, err := readLines(t, f.keysPath)
		f.keys = keys
		return err
	})
	if err != nil {
		return err
	}
	log.Info("Read keys", logging.Fields{"count": len(f.keys)})

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return kerrors.Wrap(err, "listing languages")
	}
	langs := 0
	for _, e := range entries {
		name := e.Name()
		if strings.EqualFold(name, KeysFile) || !langPattern.MatchString(name) || !e.Type().IsRegular() {
			continue
		}
		if err := t.CheckOrAbort(); err != nil {
			return err
		}
		code := strings.TrimSuffix(name, filepath.Ext(name))
		l := &langSync{folder: f, code: code, path: filepath.Join(f.dir, name)}
		if _, created := t.Spawn(code, t.Name()+"/"+code, l.body, task.WithGate(f.syncer.fileIO)); created {
			langs++
		}
	}
	log.Info("Found languages", logging.Fields{"count": langs})
	return nil
}

// langSync imports one language file of a folder.
type langSync struct {
	folder *folderSync
	code   string
	path   string
}

func (l *langSync) body(ctx context.Context, t *task.Task) error {
	log := t.Logger()
	lines, err := readLines(t, l.path)
	if err != nil {
		return err
	}
	keys := l.folder.keys
	if len(lines) != len(keys) {
		return kerrors.InvalidInput(
			fmt.Sprintf("number of lines (%d) doesn't match number of keys (%d) in %s",
				len(lines), len(keys), l.path),
			kerrors.WithMetadata("path", l.path))
	}
	log.Info("Read lines", logging.Fields{"count": len(lines)})

	file := filepath.Base(l.folder.dir)
	rows := make([]store.Translation, len(lines))
	for i, body := range lines {
		rows[i] = store.Translation{File: file, Key: keys[i], Lang: l.code, Body: body}
	}

	return t.Critical(ctx, func(ctx context.Context) error {
		inserted, err := l.folder.syncer.store.InsertTranslations(ctx, rows)
		if err != nil {
			return err
		}
		log.Info("Stored lines", logging.Fields{"count": len(rows), "new": inserted})
		return nil
	})
}

// readLines reads path as UTF-8 lines with surrounding whitespace and a
// leading byte order mark removed, checking for shutdown between lines.
func readLines(t *task.Task, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kerrors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if len(lines) == 0 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		lines = append(lines, strings.TrimSpace(line))
		if err := t.CheckOrAbort(); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, kerrors.Wrapf(err, "reading %s", path)
	}
	return lines, nil
}
