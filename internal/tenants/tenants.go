// Package tenants resolves workspace installations and their feature flags.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"zapask/internal/storage"
)

const (
	DefaultFlagTTL         = 6 * time.Hour
	defaultInstallationTTL = 5 * time.Minute
)

// ErrUnknownTeam is returned when a workspace has not installed the app.
var ErrUnknownTeam = errors.New("workspace is not installed")

type Store interface {
	GetInstallation(ctx context.Context, teamID string) (*storage.Installation, error)
	SetSmartContext(ctx context.Context, teamID string, enabled bool) error
}

// Directory caches installations in process and the smart-context flag in
// Redis so that every ask does not hit the database.
type Directory struct {
	store   Store
	rdb     redis.Cmdable
	flagTTL time.Duration
	local   *expirable.LRU[string, storage.Installation]
	logger  *slog.Logger
}

func NewDirectory(store Store, rdb redis.Cmdable, flagTTL time.Duration, logger *slog.Logger) *Directory {
	if flagTTL <= 0 {
		flagTTL = DefaultFlagTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:   store,
		rdb:     rdb,
		flagTTL: flagTTL,
		local:   expirable.NewLRU[string, storage.Installation](256, nil, defaultInstallationTTL),
		logger:  logger,
	}
}

func flagKey(teamID string) string {
	return "smart_context:" + teamID
}

// Lookup returns a copy of the installation for teamID.
func (d *Directory) Lookup(ctx context.Context, teamID string) (storage.Installation, error) {
	if inst, ok := d.local.Get(teamID); ok {
		return inst, nil
	}
	inst, err := d.store.GetInstallation(ctx, teamID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Installation{}, ErrUnknownTeam
	}
	if err != nil {
		return storage.Installation{}, err
	}
	d.local.Add(teamID, *inst)
	return *inst, nil
}

func (d *Directory) SmartContextEnabled(ctx context.Context, teamID string) (bool, error) {
	if d.rdb != nil {
		v, err := d.rdb.Get(ctx, flagKey(teamID)).Result()
		switch {
		case err == nil:
			return v == "1", nil
		case !errors.Is(err, redis.Nil):
			d.logger.Warn("Smart context cache read failed", "team_id", teamID, "error", err)
		}
	}

	inst, err := d.store.GetInstallation(ctx, teamID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrUnknownTeam
	}
	if err != nil {
		return false, err
	}

	if d.rdb != nil {
		v := "0"
		if inst.SmartContextEnabled {
			v = "1"
		}
		if err := d.rdb.Set(ctx, flagKey(teamID), v, d.flagTTL).Err(); err != nil {
			d.logger.Warn("Smart context cache write failed", "team_id", teamID, "error", err)
		}
	}
	return inst.SmartContextEnabled, nil
}

func (d *Directory) SetSmartContext(ctx context.Context, teamID string, enabled bool) error {
	err := d.store.SetSmartContext(ctx, teamID, enabled)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownTeam
	}
	if err != nil {
		return fmt.Errorf("failed to set smart context for %s: %w", teamID, err)
	}

	d.local.Remove(teamID)
	if d.rdb != nil {
		if err := d.rdb.Del(ctx, flagKey(teamID)).Err(); err != nil {
			d.logger.Warn("Smart context cache invalidation failed", "team_id", teamID, "error", err)
		}
	}
	return nil
}
