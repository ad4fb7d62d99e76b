package clinical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateIsOneShot(t *testing.T) {
	g := NewGate()
	assert.False(t, g.Consume(KindMedicine))

	g.Lock(KindMedicine)
	assert.True(t, g.Locked(KindMedicine))
	assert.False(t, g.Locked(KindDiagnosis))

	assert.True(t, g.Consume(KindMedicine))
	assert.False(t, g.Consume(KindMedicine), "the lock is reset by the first read")
	assert.False(t, g.Locked(KindMedicine))
}

func TestGateLockTwiceStillOneShot(t *testing.T) {
	g := NewGate()
	g.Lock(KindComplaint)
	g.Lock(KindComplaint)
	assert.True(t, g.Consume(KindComplaint))
	assert.False(t, g.Consume(KindComplaint))
}
