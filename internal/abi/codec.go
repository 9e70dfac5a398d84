// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package abi

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// MaxEnvelopeSize bounds how much guest memory the host reads per envelope.
const MaxEnvelopeSize = 16 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("abi: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		MaxNestedLevels:  8,
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("abi: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Encode serializes an envelope. Version is always set to the current one.
func Encode(env Envelope) ([]byte, error) {
	env.Version = Version
	env.Err = strings.ToValidUTF8(env.Err, "�")
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, oops.In("abi").Code(errutil.CodeInvalidEncoding).Wrap(err)
	}
	return data, nil
}

// EncodeValues is Encode for a plain value list.
func EncodeValues(values ...Object) ([]byte, error) {
	return Encode(Envelope{Values: values})
}

// EncodeError is Encode for an error result.
func EncodeError(msg string) ([]byte, error) {
	return Encode(Envelope{Err: msg})
}

// Decode parses and validates an envelope.
func Decode(data []byte) (Envelope, error) {
	if len(data) > MaxEnvelopeSize {
		return Envelope{}, invalid("envelope of %d bytes exceeds %d", len(data), MaxEnvelopeSize)
	}
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Envelope{}, oops.In("abi").Code(errutil.CodeInvalidEncoding).Wrap(err)
	}
	if env.Version != Version {
		return Envelope{}, invalid("unsupported envelope version %d, want %d", env.Version, Version)
	}
	for i, v := range env.Values {
		if err := v.Validate(); err != nil {
			return Envelope{}, oops.In("abi").With("value", i).Wrap(err)
		}
	}
	return env, nil
}

// Single returns the one value of a result envelope. An empty list is Nil.
func (e Envelope) Single() (Object, error) {
	switch len(e.Values) {
	case 0:
		return Nil(), nil
	case 1:
		return e.Values[0], nil
	default:
		return Object{}, invalid("result envelope holds %d values, want 1", len(e.Values))
	}
}
