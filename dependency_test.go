package blockstm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDependencyCondVarSignalOnce(t *testing.T) {
	cv := newDependencyCondVar()

	done := make(chan depState, 1)
	go func() { done <- cv.wait() }()

	cv.signal(depResolved)
	cv.signal(depHalted) // must be a no-op: the first signal wins

	select {
	case s := <-done:
		assert.Equal(t, depResolved, s)
	case <-time.After(2 * time.Second):
		t.Fatal("wait never returned")
	}
}
