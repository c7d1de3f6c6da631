package storage

import (
	"context"

	"roper/internal/profile"
)

// Store persists execution profiles keyed by payload digest, and the scored
// creatures of an evaluation session.
type Store interface {
	Init(ctx context.Context) error
	GetProfile(ctx context.Context, key string) (*profile.Profile, bool, error)
	SaveProfile(ctx context.Context, key string, p *profile.Profile) error
	SaveCreature(ctx context.Context, record CreatureRecord) error
	GetCreature(ctx context.Context, name string) (CreatureRecord, bool, error)
}
