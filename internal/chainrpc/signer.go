package chainrpc

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

const (
	ed25519Flag   = 0x00
	bech32KeyHRP  = "suiprivkey"
	addressLength = 32
)

// transaction data intent: scope 0, version 0, app id 0
var txIntent = []byte{0, 0, 0}

type Signer struct {
	key     ed25519.PrivateKey
	address string
}

// NewSigner accepts a suiprivkey bech32 string or a hex encoded 32 byte ed25519 seed.
func NewSigner(encoded string) (*Signer, error) {
	seed, err := decodeSeed(strings.TrimSpace(encoded))
	if err != nil {
		return nil, err
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Signer{key: key, address: deriveAddress(key.Public().(ed25519.PublicKey))}, nil
}

func decodeSeed(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, bech32KeyHRP) {
		hrp, data, err := bech32.DecodeNoLimit(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid bech32 key: %w", err)
		}
		if hrp != bech32KeyHRP {
			return nil, fmt.Errorf("unexpected key prefix %q", hrp)
		}
		raw, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("invalid bech32 key payload: %w", err)
		}
		if len(raw) != 1+ed25519.SeedSize || raw[0] != ed25519Flag {
			return nil, fmt.Errorf("only ed25519 keys are supported")
		}
		return raw[1:], nil
	}

	if !strings.HasPrefix(encoded, "0x") {
		encoded = "0x" + encoded
	}
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected %d byte seed, got %d", ed25519.SeedSize, len(raw))
	}
	return raw, nil
}

func deriveAddress(pub ed25519.PublicKey) string {
	sum := blake2b.Sum256(append([]byte{ed25519Flag}, pub...))
	return hexutil.Encode(sum[:])
}

func (s *Signer) Address() string {
	return s.address
}

// SignTransaction returns the serialized signature flag || sig || pubkey, base64 encoded.
func (s *Signer) SignTransaction(txBytes []byte) string {
	digest := blake2b.Sum256(append(append([]byte{}, txIntent...), txBytes...))
	sig := ed25519.Sign(s.key, digest[:])

	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, ed25519Flag)
	out = append(out, sig...)
	out = append(out, s.key.Public().(ed25519.PublicKey)...)
	return base64.StdEncoding.EncodeToString(out)
}

// NormalizeAddress left pads a hex chain address to 32 bytes, so "0xabc" and
// "0x0...0abc" compare equal.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(address)), "0x")
	if trimmed == "" || len(trimmed) > addressLength*2 {
		return "", fmt.Errorf("invalid chain address %q", address)
	}
	padded := "0x" + strings.Repeat("0", addressLength*2-len(trimmed)) + trimmed
	raw, err := hexutil.Decode(padded)
	if err != nil {
		return "", fmt.Errorf("invalid chain address %q: %w", address, err)
	}
	return hexutil.Encode(raw), nil
}
