package util

import (
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"
)

var (
	// ErrEmptyBody request body is empty
	ErrEmptyBody = errors.New("empty body")
	// ErrBodyTooLarge request body exceeds the limit
	ErrBodyTooLarge = errors.New("body too large")
)

// ReadJSONFromBody reads at most limit bytes and decodes them into value
func ReadJSONFromBody(from io.Reader, limit int64, value interface{}) error {
	data, err := ioutil.ReadAll(io.LimitReader(from, limit+1))
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return ErrEmptyBody
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}

	return json.Unmarshal(data, value)
}
