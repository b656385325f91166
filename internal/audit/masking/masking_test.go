package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "sk_****", MaskSecret("sk_abc"))
	assert.Equal(t, "sk_live_****7890", MaskSecret("sk_live_1234567890"))
	assert.Equal(t, "****.com", MaskSecret("jane@example.com"))
}

func TestMaskJSON(t *testing.T) {
	assert.Nil(t, MaskJSON(nil))

	out := MaskJSON(map[string]any{
		"reason":        "goodwill",
		"contact_email": "jane@example.com",
		" ":             "dropped",
		"nested": map[string]any{
			"api_token": "tok_abcdefgh",
			"amount":    10,
		},
	})
	assert.Equal(t, "goodwill", out["reason"])
	assert.Equal(t, "****.com", out["contact_email"])
	assert.NotContains(t, out, " ")
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "tok_****efgh", nested["api_token"])
	assert.Equal(t, 10, nested["amount"])
}
