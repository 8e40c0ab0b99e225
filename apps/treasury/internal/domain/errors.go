package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	"stakex.com/pkg/xerr"
)

// 错误类别，用 errors.Is 判断（按错误码匹配）
var (
	ErrTreasuryNotInitialized = xerr.NewErrCode(xerr.TreasuryNotInitialized)
	ErrAlreadyInitialized     = xerr.NewErrCode(xerr.AlreadyInitialized)
	ErrInvalidAmount          = xerr.NewErrCode(xerr.InvalidAmount)
	ErrInsufficientBalance    = xerr.NewErrCode(xerr.InsufficientBalance)
	ErrPerStakeUpdate         = xerr.NewErrCode(xerr.PerStakeUpdateFailure)
	ErrScanFailure            = xerr.NewErrCode(xerr.ScanFailure)
	ErrTreasuryPaused         = xerr.NewErrCode(xerr.TreasuryPaused)
	ErrBatchInProgress        = xerr.NewErrCode(xerr.BatchInProgress)
	ErrVersionConflict        = xerr.NewErrCode(xerr.VersionConflict)
	ErrBatchLeaseLost         = xerr.NewErrCode(xerr.BatchLeaseLost)
)

// InsufficientBalanceError 整批偿付检查失败，带上缺口
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient treasury balance: need %s, have %s, shortfall %s",
		e.Required.String(), e.Available.String(), e.Shortfall().String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// StakeFailure 单个质押发放失败，不影响整批
type StakeFailure struct {
	StakeID string `json:"stake_id"`
	Err     error  `json:"-"`
}

func (f StakeFailure) Error() string {
	return fmt.Sprintf("stake %s: %v", f.StakeID, f.Err)
}

func (f StakeFailure) Unwrap() error { return f.Err }
