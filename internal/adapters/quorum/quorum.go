// Package quorum authenticates disclosure results with a t-of-n set of
// secp256k1 signers. Each signer signs the keccak256 digest of the request id
// and plaintext; a result is trusted once threshold distinct known signers
// agree.
package quorum

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"ecocert/internal/domain"
)

const digestTag = "ecocert/disclosure/v1"

// Digest is the message every signer signs for (id, plaintext).
func Digest(id domain.RequestID, plaintext uint64) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], plaintext)
	return crypto.Keccak256([]byte(digestTag), []byte(id), v[:])
}

type Verifier struct {
	signers   map[common.Address]struct{}
	threshold int
}

func NewVerifier(signers []common.Address, threshold int) (*Verifier, error) {
	set := make(map[common.Address]struct{}, len(signers))
	for _, a := range signers {
		set[a] = struct{}{}
	}
	if threshold < 1 || threshold > len(set) {
		return nil, fmt.Errorf("threshold %d out of range for %d signers", threshold, len(set))
	}
	return &Verifier{signers: set, threshold: threshold}, nil
}

func (v *Verifier) Threshold() int { return v.threshold }

// VerifyThreshold counts distinct known signers over the digest. Malformed
// signatures and unknown signers are skipped, not fatal.
func (v *Verifier) VerifyThreshold(id domain.RequestID, plaintext uint64, signatures [][]byte) bool {
	digest := Digest(id, plaintext)
	seen := make(map[common.Address]struct{}, len(signatures))
	for _, sig := range signatures {
		if len(sig) != crypto.SignatureLength {
			continue
		}
		if sig[crypto.RecoveryIDOffset] >= 27 {
			sig = append([]byte(nil), sig...)
			sig[crypto.RecoveryIDOffset] -= 27
		}
		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			continue
		}
		addr := crypto.PubkeyToAddress(*pub)
		if _, ok := v.signers[addr]; ok {
			seen[addr] = struct{}{}
		}
	}
	return len(seen) >= v.threshold
}

// Committee holds the signing keys of a local oracle.
type Committee struct {
	keys []*ecdsa.PrivateKey
}

func NewCommittee(keys ...*ecdsa.PrivateKey) *Committee {
	return &Committee{keys: keys}
}

// GenerateCommittee creates n fresh signing keys.
func GenerateCommittee(n int) (*Committee, error) {
	keys := make([]*ecdsa.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return NewCommittee(keys...), nil
}

// ParseKeys decodes hex private keys, with or without a 0x prefix.
func ParseKeys(hexKeys []string) ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, h := range hexKeys {
		k, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (c *Committee) Addresses() []common.Address {
	out := make([]common.Address, len(c.keys))
	for i, k := range c.keys {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

// Sign returns one signature per committee member.
func (c *Committee) Sign(id domain.RequestID, plaintext uint64) ([][]byte, error) {
	digest := Digest(id, plaintext)
	out := make([][]byte, 0, len(c.keys))
	for _, k := range c.keys {
		sig, err := crypto.Sign(digest, k)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// HexKeys returns the committee's private keys as 0x-prefixed hex, in the
// form ParseKeys accepts.
func (c *Committee) HexKeys() []string {
	out := make([]string, len(c.keys))
	for i, k := range c.keys {
		out[i] = hexutil.Encode(crypto.FromECDSA(k))
	}
	return out
}

// ParseAddresses decodes hex signer addresses.
func ParseAddresses(hexAddrs []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(hexAddrs))
	for i, h := range hexAddrs {
		h = strings.TrimSpace(h)
		if !common.IsHexAddress(h) {
			return nil, fmt.Errorf("signer address %d: invalid %q", i, h)
		}
		out = append(out, common.HexToAddress(h))
	}
	return out, nil
}
