package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailWithData 失败但仍需要把上下文给调用方（比如余额不足时的缺口）
func FailWithData(c *gin.Context, httpStatus int, code int, message string, data interface{}) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// FailFromErr 按 xerr 错误码映射 HTTP 状态；未知错误不透出内部信息
func FailFromErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	httpStatus := httpStatusOf(code)

	msg := xerr.MapErrMsg(code)
	var ce *xerr.CodeError
	if errors.As(err, &ce) && httpStatus < http.StatusInternalServerError {
		msg = ce.Msg
	}
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", code),
			zap.Error(err),
		)
	}
	Fail(c, httpStatus, code, msg)
}

func httpStatusOf(code int) int {
	switch code {
	case xerr.RequestParamsError, xerr.InvalidAmount:
		return http.StatusBadRequest
	case xerr.RecordNotFound, xerr.TreasuryNotInitialized:
		return http.StatusNotFound
	case xerr.AlreadyInitialized, xerr.BatchInProgress, xerr.VersionConflict, xerr.TreasuryPaused, xerr.BatchLeaseLost:
		return http.StatusConflict
	case xerr.InsufficientBalance:
		return http.StatusUnprocessableEntity
	case xerr.RateLimited:
		return http.StatusTooManyRequests
	case xerr.ScanFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
