package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"roper/internal/profile"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// PayloadKey identifies a payload for profile caching.
func PayloadKey(payload []byte) string {
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])
}

func EncodeProfile(key string, p *profile.Profile) ([]byte, error) {
	if p == nil {
		return nil, errors.New("profile is required")
	}
	return json.Marshal(ProfileRecord{VersionedRecord: currentVersion(), Key: key, Profile: p})
}

func DecodeProfile(data []byte) (ProfileRecord, error) {
	var record ProfileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return ProfileRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return ProfileRecord{}, err
	}
	if record.Profile == nil {
		return ProfileRecord{}, fmt.Errorf("profile record %s has no profile", record.Key)
	}
	return record, nil
}

func EncodeCreature(r CreatureRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeCreature(data []byte) (CreatureRecord, error) {
	var record CreatureRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return CreatureRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return CreatureRecord{}, err
	}
	return record, nil
}

func checkVersion(v VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
