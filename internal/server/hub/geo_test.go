package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, delta            float64
	}{
		{"same point", 40.7128, -74.0060, 40.7128, -74.0060, 0, 1e-6},
		{"one degree of longitude at the equator", 0, 0, 0, 1, 111195, 1},
		{"new york to los angeles", 40.7128, -74.0060, 34.0522, -118.2437, 3_935_746, 2000},
		{"antipodes", 0, 0, 0, 180, 20_015_087, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.delta)
			assert.InDelta(t, got, Distance(tt.lat2, tt.lon2, tt.lat1, tt.lon1), 1e-6)
		})
	}
}
