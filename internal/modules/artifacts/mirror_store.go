package artifacts

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// MirrorStore writes to a primary store and copies every save to a mirror
// on a best-effort basis. Loads fall back to the mirror when the primary
// has nothing for the key, which lets a fresh node start from a remote copy.
type MirrorStore struct {
	primary Store
	mirror  Store
	log     zerolog.Logger
}

// NewMirrorStore creates a mirrored store
func NewMirrorStore(primary, mirror Store, log zerolog.Logger) *MirrorStore {
	return &MirrorStore{
		primary: primary,
		mirror:  mirror,
		log:     log.With().Str("component", "artifact_store").Str("backend", "mirror").Logger(),
	}
}

// Save stores in the primary, then the mirror. Mirror failures are logged.
func (m *MirrorStore) Save(ctx context.Context, a *Artifact) error {
	if err := m.primary.Save(ctx, a); err != nil {
		return err
	}
	if err := m.mirror.Save(ctx, a); err != nil {
		m.log.Warn().Err(err).Str("key", a.Key.String()).Msg("Failed to mirror artifact")
	}
	return nil
}

// Load reads the primary and falls back to the mirror on ErrNotFound.
// A version found only in the mirror is copied into the primary.
func (m *MirrorStore) Load(ctx context.Context, key Key, asOf time.Time) (*Artifact, error) {
	a, err := m.primary.Load(ctx, key, asOf)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return a, err
	}

	a, mirrorErr := m.mirror.Load(ctx, key, asOf)
	if a == nil {
		if mirrorErr != nil && !errors.Is(mirrorErr, ErrNotFound) {
			m.log.Warn().Err(mirrorErr).Str("key", key.String()).Msg("Mirror load failed")
		}
		return nil, err
	}

	restored := *a
	if saveErr := m.primary.Save(ctx, &restored); saveErr != nil {
		m.log.Warn().Err(saveErr).Str("key", key.String()).Msg("Failed to restore artifact from mirror")
	} else {
		m.log.Info().Str("key", key.String()).Str("version", a.Version).Msg("Artifact restored from mirror")
	}
	return a, mirrorErr
}

// LoadVersion reads the primary and falls back to the mirror on ErrNotFound
func (m *MirrorStore) LoadVersion(ctx context.Context, key Key, version string) (*Artifact, error) {
	a, err := m.primary.LoadVersion(ctx, key, version)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return a, err
	}

	a, mirrorErr := m.mirror.LoadVersion(ctx, key, version)
	if mirrorErr != nil {
		if !errors.Is(mirrorErr, ErrNotFound) {
			m.log.Warn().Err(mirrorErr).Str("key", key.String()).Msg("Mirror load failed")
		}
		return nil, err
	}
	return a, nil
}

// Versions lists the primary's versions
func (m *MirrorStore) Versions(ctx context.Context, key Key) ([]Info, error) {
	return m.primary.Versions(ctx, key)
}

// Prune prunes both stores and reports the primary's count
func (m *MirrorStore) Prune(ctx context.Context, key Key, keep int) (int, error) {
	n, err := m.primary.Prune(ctx, key, keep)
	if err != nil {
		return 0, err
	}
	if _, err := m.mirror.Prune(ctx, key, keep); err != nil {
		m.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to prune mirror")
	}
	return n, nil
}

// Keys lists the primary's keys
func (m *MirrorStore) Keys(ctx context.Context) ([]Key, error) {
	return m.primary.Keys(ctx)
}
