package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrUnknownType is returned for a well-formed message with an unrecognized type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned when a message cannot be decoded.
	ErrMalformed = errors.New("malformed message")
)

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("dto: CBOR decoder initialization failed: " + err.Error())
	}
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a producer message. Text frames are JSON, binary frames are CBOR;
// both use the same field names.
func Decode(data []byte, binary bool) (Inbound, error) {
	unmarshal := json.Unmarshal
	if binary {
		unmarshal = decMode.Unmarshal
	}

	var env envelope
	if err := unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Inbound
	var err error
	switch env.Type {
	case TypeFrameData:
		var m FrameData
		err = unmarshal(data, &m)
		msg = m
	case TypeUserPrompt:
		var m UserPrompt
		err = unmarshal(data, &m)
		msg = m
	case TypeConfiguration:
		var m Configuration
		err = unmarshal(data, &m)
		msg = m
	case TypeRequestConfig:
		msg = RequestConfig{Type: TypeRequestConfig}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}
