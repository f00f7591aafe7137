package viewstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestParseFragment(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     Partial
	}{
		{
			name:     "full",
			fragment: "#11.5/36.1284/-112.1861/0/0",
			want:     Partial{Zoom: f(11.5), Latitude: f(36.1284), Longitude: f(-112.1861), Bearing: f(0), Pitch: f(0)},
		},
		{name: "empty", fragment: "", want: Partial{}},
		{name: "no hash", fragment: "no-hash", want: Partial{}},
		{name: "hash only", fragment: "#", want: Partial{}},
		{
			name:     "non numeric leading field",
			fragment: "#abc/1/2",
			want:     Partial{Latitude: f(1), Longitude: f(2)},
		},
		{
			name:     "non finite fields",
			fragment: "#Infinity/NaN/3",
			want:     Partial{Longitude: f(3)},
		},
		{
			name:     "empty segment",
			fragment: "#10//5",
			want:     Partial{Zoom: f(10), Longitude: f(5)},
		},
		{
			name:     "extra segments ignored",
			fragment: "#1/2/3/4/5/6/7",
			want:     Partial{Zoom: f(1), Latitude: f(2), Longitude: f(3), Bearing: f(4), Pitch: f(5)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFragment(tt.fragment))
		})
	}
}

func TestParseFragmentEmptyIsEmpty(t *testing.T) {
	assert.True(t, ParseFragment("").IsEmpty())
	assert.True(t, ParseFragment("no-hash").IsEmpty())
	assert.False(t, ParseFragment("#3").IsEmpty())
}

func TestApplyMergesOverDefault(t *testing.T) {
	vs := ParseFragment("#abc/1/2").Apply(Default())

	def := Default()
	assert.Equal(t, def.Zoom, vs.Zoom)
	assert.Equal(t, 1.0, vs.Latitude)
	assert.Equal(t, 2.0, vs.Longitude)
	assert.Equal(t, def.MaxPitch, vs.MaxPitch)
}

func TestFormatRoundTrip(t *testing.T) {
	vs := ViewState{Zoom: 9.25, Latitude: 36.1284, Longitude: -112.1861, Bearing: 12.5, Pitch: 40, MaxPitch: 85}

	fragment := Format(vs)
	assert.Equal(t, "#9.25/36.1284/-112.1861/12.5/40", fragment)

	got := ParseFragment(fragment).Apply(Default())
	require.Equal(t, vs, got)
}

func TestFormatOmitsFlatCamera(t *testing.T) {
	assert.Equal(t, "#11.5/36.1284/-112.1861", Format(Default()))
}
