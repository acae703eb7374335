package mint

import (
	"github.com/mr-tron/base58"

	"github.com/okian/popclaim/internal/domain/model"
)

const publicKeyLength = 32

// ValidateAddress checks that addr is a base58 encoded 32-byte public key.
func ValidateAddress(addr string) error {
	const op = "mint.validate_address"
	if addr == "" {
		return model.NewKindMsg(op, model.ErrMalformedAddress, "empty recipient")
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return model.WrapKind(op, model.ErrMalformedAddress, err)
	}
	if len(raw) != publicKeyLength {
		return model.NewKindMsg(op, model.ErrMalformedAddress, "recipient is not a 32-byte key")
	}
	return nil
}
