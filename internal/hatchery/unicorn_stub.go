//go:build !unicorn

package hatchery

import (
	"errors"
	"time"

	"roper/internal/memimage"
)

type UnicornOptions struct {
	StackSize uint64
	MaxSteps  uint64
	Timeout   time.Duration
}

func NewUnicornEmulator(_ *memimage.Image, _ UnicornOptions) (Emulator, error) {
	return nil, errors.New("unicorn emulator unavailable in this build; rebuild with -tags unicorn")
}
