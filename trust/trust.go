// Package trust persists folder trust decisions and cached credentials.
//
// Trust is keyed by absolute folder path. A folder can be trusted itself
// (TRUST_FOLDER), trusted by way of its parent (TRUST_PARENT, which trusts
// the parent directory and everything under it), or explicitly distrusted
// (DO_NOT_TRUST). Lookups walk from the query path upward; the most
// specific rule wins.
package trust

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Level is a stored trust decision for a folder.
type Level string

const (
	// TrustFolder trusts the folder and everything under it.
	TrustFolder Level = "TRUST_FOLDER"
	// TrustParent trusts the folder's parent directory and everything
	// under it, the folder included.
	TrustParent Level = "TRUST_PARENT"
	// DoNotTrust explicitly distrusts the folder and everything under it.
	DoNotTrust Level = "DO_NOT_TRUST"
)

func (l Level) valid() bool {
	switch l {
	case TrustFolder, TrustParent, DoNotTrust:
		return true
	}
	return false
}

// Decision is the outcome of a trust lookup.
type Decision struct {
	// Trusted reports whether the queried path may be operated on
	// without prompting.
	Trusted bool
	// Source is the stored path whose rule decided the outcome, empty
	// when no rule applied.
	Source string
	// Level is the rule at Source.
	Level Level
}

// Store is a SQLite-backed trust and credential store.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) a store at the given path. Use
// ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS trust (
    path     TEXT PRIMARY KEY,
    level    TEXT NOT NULL,
    updated  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
    name     TEXT PRIMARY KEY,
    value    TEXT NOT NULL,
    updated  DATETIME NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetTrust records a trust decision for an absolute folder path,
// replacing any prior decision for that path.
func (s *Store) SetTrust(path string, level Level) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("trust path must be absolute: %q", path)
	}
	if !level.valid() {
		return fmt.Errorf("invalid trust level: %q", level)
	}

	_, err := s.db.Exec(
		`INSERT INTO trust (path, level, updated) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET level = excluded.level, updated = excluded.updated`,
		filepath.Clean(path), string(level), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set trust: %w", err)
	}
	return nil
}

// ClearTrust removes any stored decision for the path. Clearing a path
// with no decision is not an error.
func (s *Store) ClearTrust(path string) error {
	_, err := s.db.Exec(`DELETE FROM trust WHERE path = ?`, filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("clear trust: %w", err)
	}
	return nil
}

// TrustFor decides whether path is trusted. Every stored rule whose
// effective root contains the path is considered, and the rule with the
// longest (most specific) root wins; DO_NOT_TRUST beats trust at equal
// specificity.
func (s *Store) TrustFor(path string) (Decision, error) {
	if !filepath.IsAbs(path) {
		return Decision{}, fmt.Errorf("trust path must be absolute: %q", path)
	}
	path = filepath.Clean(path)

	rows, err := s.db.Query(`SELECT path, level FROM trust`)
	if err != nil {
		return Decision{}, fmt.Errorf("query trust: %w", err)
	}
	defer rows.Close()

	var best Decision
	bestRoot := -1
	for rows.Next() {
		var rulePath, levelStr string
		if err := rows.Scan(&rulePath, &levelStr); err != nil {
			return Decision{}, fmt.Errorf("scan trust rule: %w", err)
		}
		level := Level(levelStr)

		root := rulePath
		if level == TrustParent {
			root = filepath.Dir(rulePath)
		}
		if !containsPath(root, path) {
			continue
		}

		if len(root) > bestRoot || (len(root) == bestRoot && level == DoNotTrust) {
			best = Decision{
				Trusted: level != DoNotTrust,
				Source:  rulePath,
				Level:   level,
			}
			bestRoot = len(root)
		}
	}
	if err := rows.Err(); err != nil {
		return Decision{}, fmt.Errorf("iterate trust rules: %w", err)
	}

	return best, nil
}

// containsPath reports whether p equals root or lives under it.
func containsPath(root, p string) bool {
	if root == p {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(p, root)
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// SetCredential caches an opaque credential value under a name.
func (s *Store) SetCredential(name, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO credentials (name, value, updated) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated = excluded.updated`,
		name, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

// Credential returns a cached credential, or "" and false when absent.
func (s *Store) Credential(name string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM credentials WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query credential: %w", err)
	}
	return value, true, nil
}

// ClearCachedCredentials removes every cached credential. Trust
// decisions are unaffected.
func (s *Store) ClearCachedCredentials() error {
	_, err := s.db.Exec(`DELETE FROM credentials`)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
