package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// JSONStream decodes a newline delimited JSON body into values of T one at a time.
type JSONStream[T any] struct {
	body    io.ReadCloser
	decoder *json.Decoder
	once    sync.Once
	err     error
}

// NewJSONStream wraps the given body. Closing the stream closes the body.
func NewJSONStream[T any](body io.ReadCloser) *JSONStream[T] {
	return &JSONStream[T]{
		body:    body,
		decoder: json.NewDecoder(body),
	}
}

// Next returns the next value of the stream or io.EOF if the stream ended cleanly.
// A stream that breaks in the middle of a value returns io.ErrUnexpectedEOF.
func (s *JSONStream[T]) Next() (*T, error) {
	v := new(T)
	if err := s.decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to decode stream value: %w", err)
	}

	return v, nil
}

func (s *JSONStream[T]) Close() error {
	s.once.Do(func() {
		s.err = s.body.Close()
	})
	return s.err
}
