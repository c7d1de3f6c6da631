package storage

import (
	"roper/internal/creature"
	"roper/internal/profile"
)

type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

func currentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

type ProfileRecord struct {
	VersionedRecord
	Key     string           `json:"key"`
	Profile *profile.Profile `json:"profile"`
}

// CreatureRecord is the persisted summary of a developed creature. Scalar
// fitness is not stored since it is derived from the scores and weighting.
type CreatureRecord struct {
	VersionedRecord
	Name       string             `json:"name"`
	Tag        uint64             `json:"tag"`
	Parents    []string           `json:"parents,omitempty"`
	Chromosome []uint64           `json:"chromosome"`
	Payload    []byte             `json:"payload"`
	State      string             `json:"state"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Weighting  map[string]float64 `json:"weighting,omitempty"`
	Failed     bool               `json:"failed,omitempty"`
}

func NewCreatureRecord(c creature.Creature) CreatureRecord {
	r := CreatureRecord{
		VersionedRecord: currentVersion(),
		Name:            c.Name(),
		Tag:             c.Genotype.Tag,
		Parents:         c.Genotype.Parents,
		Chromosome:      c.Genotype.Chromosome,
		Payload:         c.Payload,
		State:           c.State.String(),
	}
	if c.Fitness != nil {
		r.Scores = c.Fitness.Scores
		r.Weighting = c.Fitness.Weighting
		r.Failed = c.Fitness.Failed()
	}
	return r
}
