// Package jsoncodec is the JSON codec shared by the query client, the sink
// API and the CLI. It wraps sonic with encoding/json compatible settings.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var (
	std = sonic.ConfigStd

	// numbers decodes JSON numbers into json.Number so that values read
	// back from search hits keep their original text.
	numbers = sonic.Config{
		EscapeHTML:       true,
		SortMapKeys:      true,
		CompactMarshaler: true,
		CopyString:       true,
		ValidateString:   true,
		UseNumber:        true,
	}.Froze()
)

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// UnmarshalNumbers is Unmarshal with json.Number for numbers in
// interface values.
func UnmarshalNumbers(data []byte, v any) error {
	return numbers.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return std.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return std.NewDecoder(r).Decode(v)
}

// NewDecoder returns a streaming decoder that keeps numbers as
// json.Number, for reading a sequence of records.
func NewDecoder(r io.Reader) sonic.Decoder {
	return numbers.NewDecoder(r)
}
