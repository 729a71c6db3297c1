package idb

import "encoding/json"

// Codec converts stored values to and from T.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSON stores values as JSON documents.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Raw passes values through untouched.
type Raw struct{}

func (Raw) Encode(v []byte) ([]byte, error)    { return v, nil }
func (Raw) Decode(data []byte) ([]byte, error) { return data, nil }
