// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Task records are flat maps of scalars. The bounds reject a corrupt
// row before it can allocate much.
const (
	maxNestedLevels = 8
	maxContainerLen = 1024
)

var (
	encMode  = mustEncMode()
	decMode  = mustDecMode()
	diagMode = mustDiagMode()
)

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: encoder options: %v", err))
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  maxNestedLevels,
		MaxArrayElements: maxContainerLen,
		MaxMapPairs:      maxContainerLen,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: decoder options: %v", err))
	}
	return mode
}

func mustDiagMode() cbor.DiagMode {
	mode, err := cbor.DiagOptions{
		ByteStringEncoding: cbor.ByteStringBase16Encoding,
		MaxNestedLevels:    maxNestedLevels,
		MaxArrayElements:   maxContainerLen,
		MaxMapPairs:        maxContainerLen,
	}.DiagMode()
	if err != nil {
		panic(fmt.Sprintf("codec: diagnostic options: %v", err))
	}
	return mode
}

// Marshal encodes a record with Core Deterministic Encoding.
func Marshal(record any) ([]byte, error) {
	return encMode.Marshal(record)
}

// Unmarshal decodes a stored record. Duplicate map keys and
// indefinite-length items are rejected since Marshal never writes
// them.
func Unmarshal(data []byte, record any) error {
	return decMode.Unmarshal(data, record)
}

// Diagnose renders a stored record in diagnostic notation (RFC 8949
// §8), with byte strings in hex. "jenkins-proxy tasks --raw" prints
// it.
func Diagnose(data []byte) (string, error) {
	return diagMode.Diagnose(data)
}
