package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeError_IsByCode(t *testing.T) {
	err := New(ScanFailure, "registry down")
	wrapped := fmt.Errorf("distribute: %w", err)

	assert.True(t, errors.Is(wrapped, NewErrCode(ScanFailure)))
	assert.False(t, errors.Is(wrapped, NewErrCode(InsufficientBalance)))
	assert.Equal(t, ScanFailure, CodeOf(wrapped))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("deadlock found")
	err := Wrap(DbError, "update stake failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, DbError, CodeOf(err))
	assert.Contains(t, err.Error(), "deadlock found")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, ServerCommonError, CodeOf(errors.New("plain")))
	assert.Equal(t, "国库未初始化", MapErrMsg(TreasuryNotInitialized))
	assert.Equal(t, "请求过于频繁", MapErrMsg(RateLimited))
	assert.Equal(t, "批次租约已失效", MapErrMsg(BatchLeaseLost))
}
