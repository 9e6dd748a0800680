package msgtype

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polysync/rnr/internal/rnrerr"
)

func TestFilter(t *testing.T) {
	f := Filter{Include: []Type{GPS, IMU}, Exclude: []Type{CANFrame}}
	assert.NoError(t, f.Validate())
	assert.True(t, f.Allows(GPS))
	assert.False(t, f.Allows(CANFrame))
	assert.False(t, f.Allows(ByteArray))

	exclude := Filter{Exclude: []Type{CANFrame}}
	assert.True(t, exclude.Allows(ByteArray))
	assert.False(t, exclude.Empty())
	assert.True(t, Filter{}.Empty())
	assert.True(t, Filter{}.Allows(Type(999)))
}

func TestFilter_Conflict(t *testing.T) {
	conflict := Filter{Include: []Type{GPS, IMU}, Exclude: []Type{IMU}}
	err := conflict.Validate()
	var fc FilterConflictError
	assert.ErrorAs(t, err, &fc)
	assert.Equal(t, IMU, fc.Type)
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))
}
