package memimage

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roper/internal/arch"
)

// selfBinary returns the running test binary when it is an x86-64 ELF.
func selfBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("needs a linux/amd64 test binary")
	}
	path, err := os.Executable()
	require.NoError(t, err)
	return path
}

func TestLoadELFReadsLoadableSegments(t *testing.T) {
	img, err := LoadELF(selfBinary(t), testTarget(t), 1)
	require.NoError(t, err)
	assert.Positive(t, img.ExecutableSize())

	var exec int
	for _, s := range img.Segments() {
		if s.Executable() {
			exec += len(s.Data)
		}
	}
	assert.Equal(t, img.ExecutableSize(), exec)
}

func TestLoadELFRejectsOtherMachine(t *testing.T) {
	target, err := arch.ParseTarget("arm", "arm")
	require.NoError(t, err)
	_, err = LoadELF(selfBinary(t), target, 1)
	assert.True(t, errors.Is(err, ErrTargetMismatch))
}

func TestLoadELFRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a binary"), 0o644))
	_, err := LoadELF(path, testTarget(t), 1)
	assert.True(t, errors.Is(err, ErrNotELF))
}
