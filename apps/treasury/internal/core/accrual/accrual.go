// Package accrual 质押奖励的复利计算，纯函数，全程 decimal
package accrual

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 中间计算保留的小数位，最终结果再按 Rates.Scale 截断
const calcPrecision int32 = 30

var (
	one         = decimal.NewFromInt(1)
	two         = decimal.NewFromInt(2)
	daysPerYear = decimal.NewFromInt(365)
	dayNanos    = decimal.NewFromInt(int64(24 * time.Hour))
)

var ErrNegativePrincipal = errors.New("accrual: principal must not be negative")

// Rates 年化与复利参数
type Rates struct {
	BaseAPY           decimal.Decimal
	MemberBonusAPY    decimal.Decimal
	CompoundFrequency int   // 每年复利次数，按天复利就是 365
	Scale             int32 // 奖励金额保留的小数位
}

func DefaultRates() Rates {
	return Rates{
		BaseAPY:           decimal.RequireFromString("0.07"),
		MemberBonusAPY:    decimal.RequireFromString("0.02"),
		CompoundFrequency: 365,
		Scale:             8,
	}
}

func (r Rates) Validate() error {
	if r.BaseAPY.IsNegative() || r.MemberBonusAPY.IsNegative() {
		return errors.New("accrual: apy must not be negative")
	}
	if r.CompoundFrequency <= 0 {
		return errors.New("accrual: compound frequency must be positive")
	}
	if r.Scale < 0 {
		return errors.New("accrual: scale must not be negative")
	}
	return nil
}

// APY 会员额外加 MemberBonusAPY
func (r Rates) APY(isMember bool) decimal.Decimal {
	if isMember {
		return r.BaseAPY.Add(r.MemberBonusAPY)
	}
	return r.BaseAPY
}

// Accrue 离散复利：principal * ((1 + rate/n)^(n*days/365) - 1)
// 幂用 exp(n*days/365 * ln(1 + rate/n)) 求，days 可以是小数
// days < 0（时钟回拨）按 0 处理；结果向下截断到 Scale 位，不会为负
func (r Rates) Accrue(principal decimal.Decimal, isMember bool, days decimal.Decimal) (decimal.Decimal, error) {
	if principal.IsNegative() {
		return decimal.Zero, ErrNegativePrincipal
	}
	if !principal.IsPositive() || !days.IsPositive() {
		return decimal.Zero, nil
	}
	rate := r.APY(isMember)
	if !rate.IsPositive() {
		return decimal.Zero, nil
	}

	n := decimal.NewFromInt(int64(r.CompoundFrequency))
	periodRate := rate.DivRound(n, calcPrecision)
	periods := n.Mul(days).DivRound(daysPerYear, calcPrecision)

	exponent := periods.Mul(ln1p(periodRate, calcPrecision)).Round(calcPrecision)
	factor, err := exponent.ExpTaylor(calcPrecision)
	if err != nil {
		return decimal.Zero, err
	}

	reward := principal.Mul(factor.Sub(one)).Truncate(r.Scale)
	if reward.IsNegative() {
		return decimal.Zero, nil
	}
	return reward, nil
}

// ln1p 求 ln(1+x)，x >= 0
// ln(1+x) = 2*atanh(z)，z = x/(2+x) < 1，级数 2*Σ z^(2k+1)/(2k+1) 对任意 x 都收敛
func ln1p(x decimal.Decimal, precision int32) decimal.Decimal {
	if x.IsZero() {
		return decimal.Zero
	}
	z := x.DivRound(two.Add(x), precision+5)
	z2 := z.Mul(z).Round(precision + 5)
	epsilon := decimal.New(1, -(precision + 3))

	sum := decimal.Zero
	power := z
	for k := int64(0); k < 10000; k++ {
		term := power.DivRound(decimal.NewFromInt(2*k+1), precision+5)
		sum = sum.Add(term)
		if term.Abs().LessThan(epsilon) {
			break
		}
		power = power.Mul(z2).Round(precision + 5)
	}
	return sum.Mul(two).Round(precision)
}

// DaysBetween 两个时间点相差的天数，精确到纳秒；to 早于 from 时返回 0
func DaysBetween(from, to time.Time) decimal.Decimal {
	d := to.Sub(from)
	if d <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(d)).DivRound(dayNanos, 18)
}

// Projection 注资建议的输入
type Projection struct {
	ProjectedStake decimal.Decimal
	HorizonDays    int
	MemberShare    decimal.Decimal // 会员质押占比，缺省 0.5
	Buffer         decimal.Decimal // 安全垫，缺省 0.2
}

// RecommendedFunding 按单利估算 HorizonDays 内要发的奖励，再乘 (1 + Buffer)
func (r Rates) RecommendedFunding(p Projection) decimal.Decimal {
	if !p.ProjectedStake.IsPositive() || p.HorizonDays <= 0 {
		return decimal.Zero
	}
	memberShare := p.MemberShare
	if memberShare.IsZero() {
		memberShare = decimal.RequireFromString("0.5")
	}
	buffer := p.Buffer
	if buffer.IsZero() {
		buffer = decimal.RequireFromString("0.2")
	}

	years := decimal.NewFromInt(int64(p.HorizonDays)).DivRound(daysPerYear, calcPrecision)
	base := p.ProjectedStake.Mul(r.BaseAPY).Mul(years)
	member := p.ProjectedStake.Mul(memberShare).Mul(r.MemberBonusAPY).Mul(years)

	return base.Add(member).Mul(one.Add(buffer)).Truncate(r.Scale)
}
