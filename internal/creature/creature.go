package creature

import (
	"fmt"

	"roper/internal/fitness"
	"roper/internal/genotype"
	"roper/internal/profile"
)

// State tracks how far a creature has progressed through development.
type State int

const (
	Unborn State = iota
	PayloadGenerated
	Profiled
	Scored
)

func (s State) String() string {
	switch s {
	case Unborn:
		return "unborn"
	case PayloadGenerated:
		return "payload_generated"
	case Profiled:
		return "profiled"
	case Scored:
		return "scored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Creature is one individual flowing through the evaluation pipeline.
type Creature struct {
	Genotype genotype.Genotype
	Payload  []byte
	Profile  *profile.Profile
	Fitness  *fitness.Weighted
	State    State
}

func New(g genotype.Genotype) Creature {
	return Creature{Genotype: g}
}

func (c Creature) Name() string {
	return c.Genotype.Name
}

func (c Creature) HasPayload() bool {
	return c.State >= PayloadGenerated
}

func (c Creature) HasProfile() bool {
	return c.State >= Profiled
}

func (c Creature) Scored() bool {
	return c.State == Scored
}

// SetPayload stores the generated payload. An empty payload is still a payload.
func (c *Creature) SetPayload(payload []byte) {
	if c.HasPayload() {
		panic(fmt.Sprintf("creature %q: payload already generated", c.Name()))
	}
	if payload == nil {
		payload = []byte{}
	}
	c.Payload = payload
	c.State = PayloadGenerated
}

func (c *Creature) SetProfile(p *profile.Profile) {
	if !c.HasPayload() {
		panic(fmt.Sprintf("creature %q: profile attached before payload", c.Name()))
	}
	if c.HasProfile() {
		panic(fmt.Sprintf("creature %q: profile already attached", c.Name()))
	}
	c.Profile = p
	c.State = Profiled
}

func (c *Creature) SetFitness(f *fitness.Weighted) {
	if !c.HasProfile() {
		panic(fmt.Sprintf("creature %q: fitness assigned before profiling", c.Name()))
	}
	c.Fitness = f
	c.State = Scored
}
