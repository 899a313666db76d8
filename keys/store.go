package keys

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"xdao.co/lighthouse/errs"
)

// Snapshot is an immutable mapping from signer identity to verify key.
type Snapshot struct {
	keys map[string]VerifyKey
}

// Lookup returns the verify key registered for signer.
func (s *Snapshot) Lookup(signer string) (VerifyKey, bool) {
	if s == nil {
		return VerifyKey{}, false
	}
	k, ok := s.keys[signer]
	return k, ok
}

// Len returns the number of trusted signers.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Signers returns the trusted signer identities, sorted.
func (s *Snapshot) Signers() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.keys))
	for id := range s.keys {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Store is the relay's trusted key store, backed by a directory of key files.
//
// Reads go through an atomically swapped *Snapshot and are safe for any
// number of concurrent callers. Reloads are serialized.
type Store struct {
	dir string
	log *zap.Logger

	reloadMu sync.Mutex
	current  atomic.Pointer[Snapshot]
}

// Load scans dir and returns a store holding every complete key file found.
//
// A missing or unreadable directory is a ConfigError. Individual key files
// that cannot be parsed are logged and skipped; an empty trust set is valid.
func Load(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{dir: dir, log: log.With(zap.String("component", "keys"))}
	snap, err := s.scan()
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	return s, nil
}

// Dir returns the trusted-key directory this store was loaded from.
func (s *Store) Dir() string { return s.dir }

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot { return s.current.Load() }

// Lookup resolves signer against the current snapshot.
func (s *Store) Lookup(signer string) (VerifyKey, bool) {
	return s.current.Load().Lookup(signer)
}

// Signers returns the currently trusted signer identities, sorted.
func (s *Store) Signers() []string {
	return s.current.Load().Signers()
}

// Reload rescans the directory and atomically replaces the snapshot.
// On failure the previous snapshot remains in effect.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	snap, err := s.scan()
	if err != nil {
		s.log.Error("trusted key reload failed; keeping previous key set", zap.String("dir", s.dir), zap.Error(err))
		return err
	}
	prev := s.current.Swap(snap)
	s.log.Info("trusted keys reloaded",
		zap.String("dir", s.dir),
		zap.Int("signers", snap.Len()),
		zap.Int("previous_signers", prev.Len()))
	return nil
}

func (s *Store) scan() (*Snapshot, error) {
	if s.dir == "" {
		return nil, errs.New(errs.KindConfig, "LH-CFG-001", "trusted key directory not configured")
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "LH-CFG-002", "cannot read trusted key directory "+s.dir, err)
	}

	found := make(map[string]VerifyKey, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			s.log.Warn("skipping key file", zap.String("file", path), zap.Error(err))
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		kf, err := ReadKeyFile(path)
		if err != nil {
			s.log.Warn("skipping key file",
				zap.String("file", path),
				zap.String("rule_id", errs.RuleID(err)),
				zap.Error(err))
			continue
		}
		if _, dup := found[kf.ID]; dup {
			s.log.Warn("duplicate signer id; later key file wins", zap.String("signer", kf.ID), zap.String("file", path))
		}
		found[kf.ID] = kf.VerifyKey
	}

	s.log.Info("trusted keys loaded", zap.String("dir", s.dir), zap.Int("signers", len(found)))
	return &Snapshot{keys: found}, nil
}
