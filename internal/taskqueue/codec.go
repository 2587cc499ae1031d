package taskqueue

import (
	"bytes"
	"encoding/gob"
)

// EncodeStep gob-encodes a Step for queue backends that store opaque blobs.
func EncodeStep(s Step) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeStep gob-decodes a Step.
func DecodeStep(data []byte) (*Step, error) {
	var s Step
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
