package pending

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
)

// pinLength is the required PIN size.
const pinLength = 4

// HashPIN validates the raw PIN format and returns its bcrypt hash. The PIN
// is only ever stored hashed.
func HashPIN(pin string) (string, error) {
	if len(pin) != pinLength || !allDigits(pin) {
		return "", faults.Validation("MPIN must be exactly 4 digits.")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", faults.Persistence(err)
	}
	return string(h), nil
}

// VerifyPIN reports whether the entered PIN matches the stored hash. An
// empty hash never matches.
func VerifyPIN(hash, entered string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(entered)) == nil
}

// SetPIN hashes and stores a user's confirmation PIN.
func (p *Store) SetPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	hash, err := HashPIN(pin)
	if err != nil {
		return err
	}
	return p.accounts.SetPINHash(ctx, userID, hash)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
