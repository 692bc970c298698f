package pending

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/models"
)

func TestHashPIN(t *testing.T) {
	hash, err := HashPIN("1234")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "1234", hash)

	// Hashing is salted, two hashes of the same PIN differ.
	other, err := HashPIN("1234")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)
}

func TestHashPINValidation(t *testing.T) {
	for _, pin := range []string{"", "123", "12345", "12a4", "١٢٣٤"} {
		_, err := HashPIN(pin)
		assert.True(t, faults.IsValidation(err), "pin %q", pin)
		assert.Equal(t, "MPIN must be exactly 4 digits.", faults.Message(err))
	}
}

func TestVerifyPIN(t *testing.T) {
	hash, err := HashPIN("1234")
	require.NoError(t, err)

	assert.True(t, VerifyPIN(hash, "1234"))
	assert.False(t, VerifyPIN(hash, "4321"))
	assert.False(t, VerifyPIN(hash, ""))
	assert.False(t, VerifyPIN("", "1234"))
	assert.False(t, VerifyPIN("", ""))
}

func TestSetPIN(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestStore(t)
	user := createUser(t, mem, "ram", 0, models.RoleStandard, "")

	require.NoError(t, p.SetPIN(ctx, user.ID, "4321"))

	got, err := mem.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.HasPIN())
	assert.True(t, VerifyPIN(got.PINHash, "4321"))

	err = p.SetPIN(ctx, user.ID, "43")
	assert.True(t, faults.IsValidation(err))
}
