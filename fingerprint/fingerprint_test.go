package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintLiteralsCollapse(t *testing.T) {
	h1, c1 := Fingerprint("SELECT * FROM users WHERE id = 42")
	h2, c2 := Fingerprint("SELECT * FROM users WHERE id = 7")
	assert.Equal(t, h1, h2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, "select * from users where id = ?", c1)
}

func TestFingerprintWhitespaceInsensitive(t *testing.T) {
	h1, _ := Fingerprint("SELECT  *  FROM users\n\tWHERE id = 1")
	h2, _ := Fingerprint("select * from users where id = 99")
	assert.Equal(t, h1, h2)
}

func TestFingerprintStringLiterals(t *testing.T) {
	h1, _ := Fingerprint(`SELECT * FROM users WHERE name = 'alice'`)
	h2, _ := Fingerprint(`SELECT * FROM users WHERE name = 'bob'`)
	h3, _ := Fingerprint(`SELECT * FROM users WHERE name = "carol"`)
	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
}

func TestFingerprintInClauseCollapse(t *testing.T) {
	h1, c1 := Fingerprint("SELECT * FROM orders WHERE id IN (1, 2, 3)")
	h2, _ := Fingerprint("SELECT * FROM orders WHERE id in (4,5,6,7,8)")
	assert.Equal(t, h1, h2)
	assert.Equal(t, "select * from orders where id in (?)", c1)
}

func TestFingerprintStructureDiffers(t *testing.T) {
	h1, _ := Fingerprint("SELECT * FROM users WHERE id = 1")
	h2, _ := Fingerprint("SELECT * FROM users WHERE email = 'x'")
	h3, _ := Fingerprint("SELECT id FROM users WHERE id = 1")
	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestFingerprintDeterministic(t *testing.T) {
	first, _ := Fingerprint("SELECT * FROM settings")
	for i := 0; i < 10; i++ {
		h, _ := Fingerprint("SELECT * FROM settings")
		assert.Equal(t, first, h)
	}
}

func TestFingerprintMalformedInput(t *testing.T) {
	// Unbalanced quote must not panic; normalization is best-effort.
	assert.NotPanics(t, func() {
		h, c := Fingerprint(`SELECT * FROM users WHERE name = 'unterminated`)
		assert.NotEmpty(t, h)
		assert.NotEmpty(t, c)
	})
	h, c := Fingerprint("")
	assert.NotEmpty(t, h)
	assert.Empty(t, c)
}

func TestNormalizeTypeTags(t *testing.T) {
	display := Normalize("SELECT * FROM users WHERE id = ? AND name = ? AND deleted_at = ?", []any{42, "alice", nil})
	assert.Equal(t, "select * from users where id = :number and name = :string and deleted_at = NULL", display)
}

func TestNormalizeInlineLiteral(t *testing.T) {
	display := Normalize("SELECT * FROM users WHERE id = 42", []any{42})
	assert.Equal(t, "select * from users where id = :number", display)
}

func TestNormalizeFallbackTag(t *testing.T) {
	display := Normalize("UPDATE users SET active = ?", []any{true})
	assert.Equal(t, "update users set active = :value", display)
}

func TestNormalizeSurplusPlaceholders(t *testing.T) {
	display := Normalize("SELECT * FROM users WHERE a = ? AND b = ?", []any{1})
	assert.Equal(t, "select * from users where a = :number and b = ?", display)
}

func TestNormalizeFloatsAreNumbers(t *testing.T) {
	display := Normalize("SELECT * FROM rates WHERE rate > ?", []any{1.5})
	assert.Equal(t, "select * from rates where rate > :number", display)
}
