// Package cborcodec provides the keyed-CBOR and canonical-ordering codec
// used for every CTAP2 request and response. Record types declare their
// wire shape via `cbor:"N,keyasint"` struct tags; the integer-to-field
// translation that a hand-rolled keyed-record wrapper would otherwise
// perform is handled by the codec library's reflection cache instead (see
// DESIGN.md).
package cborcodec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	canonicalEncMode cbor.EncMode
	strictDecMode    cbor.DecMode
	looseDecMode     cbor.DecMode
)

func init() {
	encOpts := cbor.CTAP2EncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcodec: building canonical encode mode: %v", err))
	}
	canonicalEncMode = em

	strictOpts := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	dm, err := strictOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborcodec: building strict decode mode: %v", err))
	}
	strictDecMode = dm

	looseDm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborcodec: building permissive decode mode: %v", err))
	}
	looseDecMode = looseDm
}

// Marshal encodes v as canonical CTAP2 CBOR: definite-length, deterministic
// map key ordering (C7). Every CTAP2 response passes through this
// function.
func Marshal(v interface{}) ([]byte, error) {
	b, err := canonicalEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cborcodec: marshal: %w", err)
	}
	return b, nil
}

// UnmarshalStrict decodes data into v, rejecting any integer map key that
// does not correspond to a declared `keyasint` field. Used for
// authenticator-owned request types where the wire shape is fixed.
func UnmarshalStrict(data []byte, v interface{}) error {
	if err := strictDecMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cborcodec: strict unmarshal: %w", err)
	}
	return nil
}

// Unmarshal decodes data into v, tolerating additional map keys beyond
// those declared on v (forward-compatible decoding).
func Unmarshal(data []byte, v interface{}) error {
	if err := looseDecMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cborcodec: unmarshal: %w", err)
	}
	return nil
}
