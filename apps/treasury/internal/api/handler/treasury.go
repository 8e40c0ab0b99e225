package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"stakex.com/apps/treasury/internal/core/accrual"
	"stakex.com/apps/treasury/internal/core/service"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/common"
	"stakex.com/pkg/xerr"
)

// Services handler 依赖的业务对象，由 app 组装
type Services struct {
	Treasury    *service.TreasuryService
	Scanner     *service.Scanner
	Distributor *service.Distributor
	Reporter    *service.Reporter
}

type Treasury struct {
	svc Services
}

func NewTreasury(svc Services) *Treasury {
	return &Treasury{svc: svc}
}

// 金额一律是字符串
type initReq struct {
	Amount string `json:"amount" binding:"required"`
}

type fundReq struct {
	Amount string `json:"amount" binding:"required"`
	Source string `json:"source"`
}

// Init POST /api/treasury/init
func (h *Treasury) Init(c *gin.Context) {
	var req initReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromErr(c, xerr.Wrap(xerr.RequestParamsError, "amount is required", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	t, err := h.svc.Treasury.Initialize(c.Request.Context(), amount)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, t)
}

// Fund POST /api/treasury/fund
func (h *Treasury) Fund(c *gin.Context) {
	var req fundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromErr(c, xerr.Wrap(xerr.RequestParamsError, "amount is required", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	res, err := h.svc.Treasury.Fund(c.Request.Context(), amount, req.Source)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, res)
}

// Scan GET /api/treasury/scan 只读
func (h *Treasury) Scan(c *gin.Context) {
	res, err := h.svc.Scanner.Scan(c.Request.Context())
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, res)
}

// Distribute POST /api/treasury/distribute
// 余额不足时把缺口一起返回，运维据此补资
func (h *Treasury) Distribute(c *gin.Context) {
	res, err := h.svc.Distributor.Distribute(c.Request.Context())
	if err != nil {
		var ib *domain.InsufficientBalanceError
		if errors.As(err, &ib) {
			common.FailWithData(c, http.StatusUnprocessableEntity, xerr.InsufficientBalance,
				xerr.MapErrMsg(xerr.InsufficientBalance), gin.H{
					"required":  ib.Required,
					"available": ib.Available,
					"shortfall": ib.Shortfall(),
				})
			return
		}
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, res)
}

// Status GET /api/treasury/status
func (h *Treasury) Status(c *gin.Context) {
	report, err := h.svc.Reporter.Status(c.Request.Context())
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, report)
}

func (h *Treasury) Pause(c *gin.Context) {
	if err := h.svc.Treasury.Pause(c.Request.Context()); err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{"status": domain.TreasuryPaused})
}

func (h *Treasury) Resume(c *gin.Context) {
	if err := h.svc.Treasury.Resume(c.Request.Context()); err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{"status": domain.TreasuryActive})
}

// Projection GET /api/treasury/projection?projected_stake=&horizon_days=&member_share=&buffer=
func (h *Treasury) Projection(c *gin.Context) {
	var (
		p   accrual.Projection
		err error
	)
	if p.ProjectedStake, err = decimal.NewFromString(c.Query("projected_stake")); err != nil {
		common.FailFromErr(c, xerr.Wrap(xerr.RequestParamsError, "projected_stake must be a decimal", err))
		return
	}
	if p.HorizonDays, err = strconv.Atoi(c.DefaultQuery("horizon_days", "30")); err != nil {
		common.FailFromErr(c, xerr.Wrap(xerr.RequestParamsError, "horizon_days must be an integer", err))
		return
	}
	if raw := c.Query("member_share"); raw != "" {
		if p.MemberShare, err = decimal.NewFromString(raw); err != nil {
			common.FailFromErr(c, xerr.Wrap(xerr.RequestParamsError, "member_share must be a decimal", err))
			return
		}
	}
	if raw := c.Query("buffer"); raw != "" {
		if p.Buffer, err = decimal.NewFromString(raw); err != nil {
			common.FailFromErr(c, xerr.Wrap(xerr.RequestParamsError, "buffer must be a decimal", err))
			return
		}
	}

	common.Success(c, gin.H{
		"projected_stake":     p.ProjectedStake,
		"horizon_days":        p.HorizonDays,
		"recommended_funding": h.svc.Treasury.RecommendFunding(p),
	})
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, xerr.Wrap(xerr.RequestParamsError, "amount must be a decimal string", err)
	}
	return d, nil
}
