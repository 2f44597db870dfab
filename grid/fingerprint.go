// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package grid

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same field values always
// produce identical fingerprint bytes, so fingerprints can be
// compared with bytes.Equal.
var encMode cbor.EncMode

// decMode is the CBOR decoder used to recover previous field values
// from a stored fingerprint for the conditional-update check.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("grid: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Field maps only ever use string keys. The CBOR default for
		// any-typed targets is map[interface{}]interface{}; this keeps
		// decoded fingerprints directly comparable to Row.Fields.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("grid: CBOR decoder initialization failed: " + err.Error())
	}
}

// Fingerprint is the deterministic serialized form of a row's field
// map. Unlike a hash it stays decodable, which the conditional-update
// mode needs to read the previous value of the condition field.
type Fingerprint []byte

// FingerprintRow serializes a row's fields into a fingerprint.
func FingerprintRow(row Row) (Fingerprint, error) {
	encoded, err := encMode.Marshal(row.Fields)
	if err != nil {
		return nil, fmt.Errorf("grid: fingerprinting row %q: %w", row.ID, err)
	}
	return Fingerprint(encoded), nil
}

// Equal reports whether two fingerprints encode identical fields.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return bytes.Equal(f, other)
}

// Fields decodes the field map a fingerprint was computed from.
func (f Fingerprint) Fields() (map[string]any, error) {
	var fields map[string]any
	if err := decMode.Unmarshal(f, &fields); err != nil {
		return nil, fmt.Errorf("grid: decoding fingerprint: %w", err)
	}
	return fields, nil
}

// Baseline is the last-observed fingerprint of every row, keyed by
// row identifier. It is fully replaced on every detection pass: rows
// absent from the current snapshot drop out silently.
type Baseline map[string]Fingerprint
