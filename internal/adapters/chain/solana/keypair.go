package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/blocto/solana-go-sdk/types"
)

// LoadKeypairFile reads a solana-keygen JSON keypair ([u8;64]) from path.
func LoadKeypairFile(path string) (types.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Account{}, fmt.Errorf("read keypair: %w", err)
	}
	return decodeKeypair(data)
}

// LoadKeypairSecret reads the keypair from a Secret Manager version, e.g.
// projects/p/secrets/s/versions/latest.
func LoadKeypairSecret(ctx context.Context, name string) (types.Account, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return types.Account{}, fmt.Errorf("secretmanager.NewClient: %w", err)
	}
	defer client.Close()

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return types.Account{}, fmt.Errorf("access secret version %s: %w", name, err)
	}
	return decodeKeypair(resp.GetPayload().GetData())
}

func decodeKeypair(data []byte) (types.Account, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return types.Account{}, fmt.Errorf("unmarshal keypair json: %w", err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return types.Account{}, fmt.Errorf("unexpected keypair length: got %d, want %d", len(ints), ed25519.PrivateKeySize)
	}
	b := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return types.Account{}, fmt.Errorf("keypair byte %d out of range", i)
		}
		b[i] = byte(v)
	}
	acc, err := types.AccountFromBytes(b)
	if err != nil {
		return types.Account{}, fmt.Errorf("AccountFromBytes: %w", err)
	}
	return acc, nil
}
