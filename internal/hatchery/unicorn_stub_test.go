//go:build !unicorn

package hatchery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStubUnicornEmulatorReportsMissingTag(t *testing.T) {
	_, err := NewUnicornEmulator(nil, UnicornOptions{})
	assert.Error(t, err)
}
