package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	DbError            = 501
	RecordNotFound     = 404
)

// 国库业务错误码
const (
	TreasuryNotInitialized = 1001
	AlreadyInitialized     = 1002
	InvalidAmount          = 1003
	InsufficientBalance    = 1004
	PerStakeUpdateFailure  = 1005
	ScanFailure            = 1006
	TreasuryPaused         = 1007
	BatchInProgress        = 1008
	VersionConflict        = 1009
	BatchLeaseLost         = 1010
	RateLimited            = 1011
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

// Is 按错误码比较，errors.Is(err, xerr.NewErrCode(xerr.ScanFailure)) 即可判断类别
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留底层错误，上层依旧可以 errors.Is 到原始错误
func Wrap(code int, msg string, cause error) error {
	return &CodeError{Code: code, Msg: msg, cause: cause}
}

// CodeOf 取错误链上第一个 CodeError 的错误码，没有则是 ServerCommonError
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case TreasuryNotInitialized:
		return "国库未初始化"
	case AlreadyInitialized:
		return "国库已初始化"
	case InvalidAmount:
		return "金额必须大于0"
	case InsufficientBalance:
		return "国库可用余额不足"
	case PerStakeUpdateFailure:
		return "质押奖励更新失败"
	case ScanFailure:
		return "质押扫描失败"
	case TreasuryPaused:
		return "国库已暂停分发"
	case BatchInProgress:
		return "已有分发批次在执行"
	case VersionConflict:
		return "并发冲突，请重试"
	case BatchLeaseLost:
		return "批次租约已失效"
	case RateLimited:
		return "请求过于频繁"
	default:
		return "未知错误"
	}
}
