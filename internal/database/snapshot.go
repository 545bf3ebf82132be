package database

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"proctorwire/pkg/types"
)

// snapshotEnc writes projection blobs with core deterministic encoding, so
// the same projections always produce the same bytes.
var (
	snapshotEnc cbor.EncMode
	snapshotDec cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// TECHNICAL DISCOVERY: The default unix-seconds time encoding drops the
	// sub-second part that last-write-wins comparisons depend on
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	snapshotEnc, err = encOptions.EncMode()
	if err != nil {
		panic("database: CBOR encoder initialization failed: " + err.Error())
	}
	snapshotDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("database: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeProjections serializes student projections for the payload column.
func EncodeProjections(students []types.StudentProjection) ([]byte, error) {
	data, err := snapshotEnc.Marshal(students)
	if err != nil {
		return nil, fmt.Errorf("encode projections: %w", err)
	}
	return data, nil
}

// DecodeProjections reverses EncodeProjections.
func DecodeProjections(data []byte) ([]types.StudentProjection, error) {
	var students []types.StudentProjection
	if err := snapshotDec.Unmarshal(data, &students); err != nil {
		return nil, fmt.Errorf("decode projections: %w", err)
	}
	return students, nil
}
