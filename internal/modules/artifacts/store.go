// Package artifacts stores versioned pipeline outputs (forecast tables,
// covariance matrices, price tables) keyed by kind and asset universe.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the table an artifact holds
type Kind string

const (
	KindForecast   Kind = "forecast"
	KindCovariance Kind = "covariance"
	KindPrices     Kind = "prices"
)

var (
	// ErrNotFound means no version exists for the key
	ErrNotFound = errors.New("artifact not found")
	// ErrStale is returned together with the newest artifact when it predates
	// the requested as-of date
	ErrStale = errors.New("artifact is stale")
)

// Key addresses an artifact series
type Key struct {
	Kind     Kind   `json:"kind" msgpack:"kind"`
	Universe string `json:"universe" msgpack:"universe"`
}

// NewKey builds a key from a kind and the asset ids of the universe.
// Order and duplicates do not change the key.
func NewKey(kind Kind, assetIDs []string) Key {
	return Key{Kind: kind, Universe: UniverseHash(assetIDs)}
}

// UniverseHash is a short sha256 digest of the sorted unique ids
func UniverseHash(assetIDs []string) string {
	ids := make([]string, 0, len(assetIDs))
	seen := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:12])
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.Universe)
}

// Artifact is one stored version
type Artifact struct {
	Key       Key       `msgpack:"key"`
	Version   string    `msgpack:"version"`
	AsOf      time.Time `msgpack:"as_of"`
	CreatedAt time.Time `msgpack:"created_at"`
	Payload   []byte    `msgpack:"payload"`
}

// Info describes a stored version without its payload
type Info struct {
	Key       Key       `json:"key"`
	Version   string    `json:"version"`
	AsOf      time.Time `json:"as_of"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Store persists artifact versions
type Store interface {
	// Save stores a new version, assigning Version and CreatedAt when empty
	Save(ctx context.Context, a *Artifact) error
	// Load returns the newest version. It returns ErrNotFound when none
	// exists and the artifact together with ErrStale when its AsOf is
	// before asOf. A zero asOf disables the staleness check.
	Load(ctx context.Context, key Key, asOf time.Time) (*Artifact, error)
	// LoadVersion returns one stored version, or ErrNotFound
	LoadVersion(ctx context.Context, key Key, version string) (*Artifact, error)
	// Versions lists stored versions, newest first
	Versions(ctx context.Context, key Key) ([]Info, error)
	// Prune deletes all but the newest keep versions and reports how many were removed
	Prune(ctx context.Context, key Key, keep int) (int, error)
	// Keys lists every key with at least one stored version
	Keys(ctx context.Context) ([]Key, error)
}

// SnapshotVersion is the version an artifact of kind gets when it is saved
// as part of the snapshot with the given version
func SnapshotVersion(snapshot string, kind Kind) string {
	return snapshot + "-" + string(kind)
}

// SnapshotOf recovers the snapshot version from an artifact version
func SnapshotOf(version string, kind Kind) (string, bool) {
	snapshot, ok := strings.CutSuffix(version, "-"+string(kind))
	return snapshot, ok && snapshot != ""
}

// prepare fills in identity fields before a save
func prepare(a *Artifact) error {
	if a == nil {
		return errors.New("artifact is nil")
	}
	if a.Key.Kind == "" || a.Key.Universe == "" {
		return fmt.Errorf("artifact key %q is incomplete", a.Key)
	}
	if a.Version == "" {
		a.Version = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.AsOf = truncateDate(a.AsOf)
	return nil
}

// checkFresh applies the staleness rule to a loaded artifact
func checkFresh(a *Artifact, asOf time.Time) (*Artifact, error) {
	if !asOf.IsZero() && a.AsOf.Before(truncateDate(asOf)) {
		return a, fmt.Errorf("%w: %s built as of %s, wanted %s",
			ErrStale, a.Key, a.AsOf.Format(dateLayout), asOf.Format(dateLayout))
	}
	return a, nil
}

const dateLayout = "2006-01-02"

func truncateDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
