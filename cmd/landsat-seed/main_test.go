package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("-112.3, 36.0,-112.0,36.2")
	require.NoError(t, err)
	assert.Equal(t, -112.3, b.Min.X())
	assert.Equal(t, 36.0, b.Min.Y())
	assert.Equal(t, -112.0, b.Max.X())
	assert.Equal(t, 36.2, b.Max.Y())

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "-190,0,0,10", "0,-91,1,1"} {
		_, err := parseBBox(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseBands(t *testing.T) {
	bands, err := parseBands("7, 5,3")
	require.NoError(t, err)
	assert.Equal(t, []int{7, 5, 3}, bands)

	_, err = parseBands("4,x,2")
	assert.Error(t, err)

	assert.Equal(t, "4,3,2", joinInts([]int{4, 3, 2}))
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, []string{"LANDSAT_SEED_MIN_ZOOM"}, envVar(MINZOOM))
	assert.Equal(t, []string{"LANDSAT_SEED_BBOX"}, envVar(BBOX))
}
