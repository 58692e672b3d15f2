package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackLabel_Huyen(t *testing.T) {
	label, ok := FallbackLabel("Huyện Ba Vì")
	assert.True(t, ok)
	assert.Equal(t, "Thị xã Ba Vì", label)
}

func TestFallbackLabel_ThanhPho(t *testing.T) {
	label, ok := FallbackLabel("Thành phố Sơn La")
	assert.True(t, ok)
	assert.Equal(t, "Thị xã Sơn La", label)
}

func TestFallbackLabel_Quan(t *testing.T) {
	label, ok := FallbackLabel("Quận Hà Đông")
	assert.True(t, ok)
	assert.Equal(t, "Thị xã Hà Đông", label)
}

func TestFallbackLabel_NoRecognizedPrefix(t *testing.T) {
	label, ok := FallbackLabel("Thị xã Sơn Tây")
	assert.False(t, ok)
	assert.Empty(t, label)
}

func TestFallbackLabel_FirstMatchOnly(t *testing.T) {
	// A district literally named after another unit type must only have its
	// leading prefix rewritten
	label, ok := FallbackLabel("Huyện Thành phố Cũ")
	assert.True(t, ok)
	assert.Equal(t, "Thị xã Thành phố Cũ", label)
}

func TestFallbackLabel_EmptyInput(t *testing.T) {
	label, ok := FallbackLabel("")
	assert.False(t, ok)
	assert.Empty(t, label)
}
