package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"stakex.com/apps/treasury/internal/app"
	"stakex.com/apps/treasury/internal/core/accrual"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/apps/treasury/internal/infra/persistence"
)

var out io.Writer = os.Stdout

// runCommand 一次性命令，结果以 JSON 打到 stdout
func runCommand(ctx context.Context, a *app.App, cmd string, args []string) error {
	svc := a.Services()

	switch cmd {
	case "init":
		amount, err := amountArg(args, 0)
		if err != nil {
			return err
		}
		t, err := svc.Treasury.Initialize(ctx, amount)
		if err != nil {
			return err
		}
		return printJSON(t)

	case "fund":
		amount, err := amountArg(args, 0)
		if err != nil {
			return err
		}
		source := ""
		if len(args) > 1 {
			source = args[1]
		}
		res, err := svc.Treasury.Fund(ctx, amount, source)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "scan":
		res, err := svc.Scanner.Scan(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "distribute":
		res, err := svc.Distributor.Distribute(ctx)
		if err != nil {
			var ib *domain.InsufficientBalanceError
			if errors.As(err, &ib) {
				_ = printJSON(map[string]decimal.Decimal{
					"required":  ib.Required,
					"available": ib.Available,
					"shortfall": ib.Shortfall(),
				})
			}
			return err
		}
		return printJSON(res)

	case "status":
		report, err := svc.Reporter.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "pause":
		return svc.Treasury.Pause(ctx)

	case "resume":
		return svc.Treasury.Resume(ctx)

	case "projection":
		stake, err := amountArg(args, 0)
		if err != nil {
			return err
		}
		if len(args) < 2 {
			return fmt.Errorf("projection needs <stake> <days>")
		}
		days, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("days %q: %w", args[1], err)
		}
		return printJSON(map[string]interface{}{
			"projected_stake":     stake,
			"horizon_days":        days,
			"recommended_funding": svc.Treasury.RecommendFunding(accrual.Projection{ProjectedStake: stake, HorizonDays: days}),
		})

	case "stake":
		if len(args) < 3 {
			return fmt.Errorf("stake needs <id> <wallet> <amount> [member]")
		}
		amount, err := amountArg(args, 2)
		if err != nil {
			return err
		}
		member := len(args) > 3 && args[3] == "member"
		s := &domain.Stake{
			StakeID:      args[0],
			StakerWallet: args[1],
			AmountStaked: amount,
			IsMember:     member,
			Status:       domain.StakeActive,
		}
		if err := a.Repo().CreateStake(ctx, s); err != nil {
			return err
		}
		return printJSON(s)

	case "member":
		if len(args) < 2 {
			return fmt.Errorf("member needs <wallet> <true|false>")
		}
		active, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("member flag %q: %w", args[1], err)
		}
		return a.Repo().UpsertMember(ctx, &persistence.ClubMember{
			WalletAddress: args[0],
			Active:        active,
			JoinedAt:      time.Now().UTC(),
		})

	case "fundings":
		list, err := a.Repo().ListFundings(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func amountArg(args []string, i int) (decimal.Decimal, error) {
	if len(args) <= i {
		return decimal.Zero, fmt.Errorf("missing amount argument")
	}
	d, err := decimal.NewFromString(args[i])
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", args[i], err)
	}
	return d, nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
