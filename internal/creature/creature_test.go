package creature

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"roper/internal/fitness"
	"roper/internal/genotype"
	"roper/internal/profile"
)

func TestLifecycleAdvancesInOrder(t *testing.T) {
	c := New(genotype.Genotype{Name: "c1", Chromosome: []uint64{1, 2}})
	assert.Equal(t, Unborn, c.State)
	assert.Equal(t, "c1", c.Name())
	assert.False(t, c.HasPayload())

	c.SetPayload(nil)
	assert.Equal(t, PayloadGenerated, c.State)
	assert.NotNil(t, c.Payload)
	assert.Empty(t, c.Payload)

	c.SetProfile(&profile.Profile{})
	assert.True(t, c.HasProfile())
	assert.False(t, c.Scored())

	c.SetFitness(fitness.New(fitness.Weighting{"register_novelty": 1}))
	assert.True(t, c.Scored())
	assert.Equal(t, "scored", c.State.String())
}

func TestOutOfOrderTransitionsPanic(t *testing.T) {
	c := New(genotype.Genotype{Name: "c1"})
	assert.Panics(t, func() { c.SetProfile(&profile.Profile{}) })
	assert.Panics(t, func() { c.SetFitness(fitness.New(nil)) })

	c.SetPayload([]byte{1})
	assert.Panics(t, func() { c.SetPayload([]byte{2}) })
	assert.Panics(t, func() { c.SetFitness(fitness.New(nil)) })

	c.SetProfile(&profile.Profile{})
	assert.Panics(t, func() { c.SetProfile(&profile.Profile{}) })
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unborn", Unborn.String())
	assert.Equal(t, "payload_generated", PayloadGenerated.String())
	assert.Equal(t, "profiled", Profiled.String())
	assert.Equal(t, "state(9)", State(9).String())
}
