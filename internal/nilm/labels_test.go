package nilm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutoLabelBands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		watts     float64
		wantLabel string
		wantIcon  string
	}{
		{8, "Small Device", "plug"},
		{49.9, "Small Device", "plug"},
		{50, "Medium Device", "snowflake"},
		{150, "Medium Device", "snowflake"},
		{200, "Appliance", "tv"},
		{799, "Appliance", "tv"},
		{800, "Heater/Cooler", "fire"},
		{1999, "Heater/Cooler", "fire"},
		{2000, "Major Appliance", "lightning"},
		{7500, "Major Appliance", "lightning"},
	}
	for _, tt := range tests {
		label, icon, color := AutoLabel(tt.watts)
		assert.Equal(t, tt.wantLabel, label, "watts=%v", tt.watts)
		assert.Equal(t, tt.wantIcon, icon, "watts=%v", tt.watts)
		assert.NotEmpty(t, color, "watts=%v", tt.watts)
	}
}

func TestIsAutoLabel(t *testing.T) {
	t.Parallel()
	assert.True(t, IsAutoLabel("Small Device"))
	assert.True(t, IsAutoLabel("Major Appliance"))
	assert.False(t, IsAutoLabel("Fridge"))
	assert.False(t, IsAutoLabel("Washing Machine"))
	assert.False(t, IsAutoLabel(""))
}
