package coopsched

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPanicError_Unwrap_SeesThroughErrorValue(t *testing.T) {
	cause := errors.New("root cause")
	e := PanicError{Value: cause}
	assert.ErrorIs(t, e, cause)
}

func TestPanicError_Unwrap_NilForNonErrorValue(t *testing.T) {
	e := PanicError{Value: "not an error"}
	assert.Nil(t, e.Unwrap())
}

func TestTimeoutError_Error_UsesMessageOrDefault(t *testing.T) {
	withMessage := &TimeoutError{Message: "await timed out"}
	assert.Equal(t, "await timed out", withMessage.Error())

	withoutMessage := &TimeoutError{}
	assert.Equal(t, "operation timed out", withoutMessage.Error())
}

func TestTimeoutError_Unwrap_ReturnsCause(t *testing.T) {
	cause := errors.New("deadline")
	e := &TimeoutError{Cause: cause}
	assert.ErrorIs(t, e, cause)
}

func TestWrapError_PreservesCauseForErrorsIs(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := WrapError("context", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "context")
}
