// Package codec holds the canonical binary encoding shared by validators.
// Every value that is hashed or signed goes through it so independent nodes
// produce identical bytes.
package codec

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode = func() cbor.EncMode {
		em, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		return em
	}()

	decMode = func() cbor.DecMode {
		dm, err := cbor.DecOptions{
			DupMapKey: cbor.DupMapKeyEnforcedAPF,
		}.DecMode()
		if err != nil {
			panic(err)
		}
		return dm
	}()
)

// Marshal encodes v with canonical CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v, rejecting duplicate map keys.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Hash returns the keccak-256 of the canonical encoding of v.
func Hash(v any) (common.Hash, error) {
	b, err := Marshal(v)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}
