package fhe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Keys is the BGV key pair together with the parameters it was made for.
// Every process that decrypts a handle, including an external oracle, must
// be started from the same Keys.
type Keys struct {
	Params bgv.Parameters
	Secret *rlwe.SecretKey
	Public *rlwe.PublicKey
}

// keyFile is the on-disk form. Key material is base64 via []byte.
type keyFile struct {
	LogN             int      `json:"log_n"`
	Q                []uint64 `json:"q"`
	P                []uint64 `json:"p"`
	PlaintextModulus uint64   `json:"plaintext_modulus"`
	SecretKey        []byte   `json:"secret_key"`
	PublicKey        []byte   `json:"public_key"`
}

func GenerateKeys(lit bgv.ParametersLiteral) (*Keys, error) {
	params, err := bgv.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("bgv parameters: %w", err)
	}
	sk, pk := rlwe.NewKeyGenerator(params).GenKeyPairNew()
	return &Keys{Params: params, Secret: sk, Public: pk}, nil
}

// MarshalJSON writes the key file format read by UnmarshalKeys.
func (k *Keys) MarshalJSON() ([]byte, error) {
	sk, err := k.Secret.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal secret key: %w", err)
	}
	pk, err := k.Public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	lit := k.Params.ParametersLiteral()
	return json.Marshal(keyFile{
		LogN:             lit.LogN,
		Q:                lit.Q,
		P:                lit.P,
		PlaintextModulus: lit.PlaintextModulus,
		SecretKey:        sk,
		PublicKey:        pk,
	})
}

func UnmarshalKeys(data []byte) (*Keys, error) {
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	params, err := bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             f.LogN,
		Q:                f.Q,
		P:                f.P,
		PlaintextModulus: f.PlaintextModulus,
	})
	if err != nil {
		return nil, fmt.Errorf("bgv parameters: %w", err)
	}
	sk := rlwe.NewSecretKey(params)
	if err := sk.UnmarshalBinary(f.SecretKey); err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if sk.Value.Q.N() != params.N() || sk.LevelQ() != params.MaxLevelQ() {
		return nil, errors.New("secret key does not match parameters")
	}
	pk := rlwe.NewPublicKey(params)
	if err := pk.UnmarshalBinary(f.PublicKey); err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(pk.Value) != 2 || pk.Value[0].Q.N() != params.N() || pk.LevelQ() != params.MaxLevelQ() {
		return nil, errors.New("public key does not match parameters")
	}
	return &Keys{Params: params, Secret: sk, Public: pk}, nil
}

func LoadKeys(path string) (*Keys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalKeys(data)
}

// Save writes the key file readable by the owner only.
func (k *Keys) Save(path string) error {
	data, err := k.MarshalJSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadOrCreateKeys reads path, or generates keys for lit and saves them there
// when the file does not exist yet.
func LoadOrCreateKeys(path string, lit bgv.ParametersLiteral) (keys *Keys, created bool, err error) {
	keys, err = LoadKeys(path)
	if err == nil {
		return keys, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("load %s: %w", path, err)
	}
	keys, err = GenerateKeys(lit)
	if err != nil {
		return nil, false, err
	}
	if err := keys.Save(path); err != nil {
		return nil, false, fmt.Errorf("save %s: %w", path, err)
	}
	return keys, true, nil
}
