// internal/joincode/joincode_test.go
package joincode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.Len(t, code, Length)
		assert.True(t, Valid(code), "generated code %q must validate", code)
	}
}

func TestGenerateAvoidsAmbiguousCharacters(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.False(t, strings.ContainsAny(code, "0O1IL"), "code %q contains ambiguous characters", code)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("ABC234"))
	assert.True(t, Valid("ZZZZZZ"))

	assert.False(t, Valid(""))
	assert.False(t, Valid("ABC23"))    // too short
	assert.False(t, Valid("ABC2345")) // too long
	assert.False(t, Valid("abc234"))  // lowercase
	assert.False(t, Valid("ABC230"))  // ambiguous digit
	assert.False(t, Valid("ABCO34"))  // ambiguous letter
	assert.False(t, Valid("AB-234"))
}
