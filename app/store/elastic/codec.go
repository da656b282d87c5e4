package elastic

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Codec encodes request bodies and decodes response bodies
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type stdCodec struct{}

func (stdCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (stdCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

var codecs = map[string]Codec{
	"":         stdCodec{},
	"std":      stdCodec{},
	"jsoniter": jsoniter.ConfigCompatibleWithStandardLibrary,
}

// NewCodec returns codec for the json parser name, "std" (default) or "jsoniter"
func NewCodec(parser string) (Codec, error) {
	if c, has := codecs[parser]; has {
		return c, nil
	}
	return nil, errors.Errorf("unknown json parser %q, available parsers %v", parser, []string{"std", "jsoniter"})
}
