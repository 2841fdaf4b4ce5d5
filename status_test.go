package blockstm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationStatusCommittable(t *testing.T) {
	var v validationStatus
	assert.False(t, v.committable(0), "never validated must not be committable")

	v.maxValidatedWave = 2
	v.maxValidatedWaveSet = true
	assert.True(t, v.committable(2))
	assert.True(t, v.committable(1))
	assert.False(t, v.committable(3))

	v.requiredWave = 5
	assert.False(t, v.committable(2), "requiredWave raises the threshold above commitWave")
}
