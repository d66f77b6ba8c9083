package coopsched

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSizeOfAtomicUint64_MatchesDeclaredConstant(t *testing.T) {
	var v atomic.Uint64
	assert.Equal(t, uintptr(sizeOfAtomicUint64), unsafe.Sizeof(v))
}

func TestState_IsPaddedToAtLeastOneCacheLine(t *testing.T) {
	var s State
	assert.GreaterOrEqual(t, unsafe.Sizeof(s), uintptr(sizeOfCacheLine))
}

func TestRingHeadPadSize_FillsOutRemainderOfCacheLine(t *testing.T) {
	assert.Equal(t, sizeOfCacheLine-sizeOfAtomicUint64, ringHeadPadSize)
}
