package storage

import (
	"encoding/json"
	"errors"

	"ecoevo/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned is the header stamped on every record written by this build.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeLandscape(l model.LandscapeRecord) ([]byte, error) {
	return json.Marshal(l)
}

func DecodeLandscape(data []byte) (model.LandscapeRecord, error) {
	var landscape model.LandscapeRecord
	if err := json.Unmarshal(data, &landscape); err != nil {
		return model.LandscapeRecord{}, err
	}
	if err := checkVersion(landscape.VersionedRecord); err != nil {
		return model.LandscapeRecord{}, err
	}
	return landscape, nil
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeDataPoints(points []model.DataPoint) ([]byte, error) {
	return json.Marshal(points)
}

func DecodeDataPoints(data []byte) ([]model.DataPoint, error) {
	var points []model.DataPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
