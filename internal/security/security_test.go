package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "omni-trader/internal/errors"
)

func TestValidateSymbol(t *testing.T) {
	assert.NoError(t, ValidateSymbol("BTCUSDT"))
	assert.NoError(t, ValidateSymbol(NormalizeSymbol(" token12usdt ")))

	for _, bad := range []string{"", "B", "BTC-USDT", "BTCUSDT;DROP", "btcusdt"} {
		err := ValidateSymbol(bad)
		assert.Error(t, err, bad)
		assert.ErrorIs(t, err, apperrors.ErrConfigInvalid, bad)
	}
}

func TestValidateStatus(t *testing.T) {
	assert.NoError(t, ValidateStatus("StopLoss"))
	assert.Error(t, ValidateStatus("stoploss"))
}

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "", MaskCredential(""))
	assert.Equal(t, "***", MaskCredential("abc"))
	assert.Equal(t, "ab****", MaskCredential("abcdef"))
	assert.Equal(t, "sk-a********wxyz", MaskCredential("sk-abcdefghiwxyz"))
}

func TestMaskSensitive(t *testing.T) {
	key := "sk-proj1234567890abcdefXYZ"
	out := MaskSensitive("openai: 401 invalid key " + key)
	assert.NotContains(t, out, key)
	assert.Contains(t, out, "sk-p")

	out = MaskSensitive("api_key=supersecretvalue123&x=1")
	assert.NotContains(t, out, "supersecretvalue123")
	assert.Contains(t, out, "api_key=")
	assert.Contains(t, out, "&x=1")

	out = MaskSensitive("postgres://trader:hunter2@db:5432/trades?sslmode=disable")
	assert.Equal(t, "postgres://trader:***@db:5432/trades?sslmode=disable", out)

	assert.Equal(t, "nothing to hide", MaskSensitive("nothing to hide"))
}
