package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"stakex.com/apps/treasury/internal/core/service"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/apps/treasury/internal/infra/lock"
	"stakex.com/apps/treasury/internal/infra/persistence"
	"stakex.com/pkg/orm"
	"stakex.com/pkg/xerr"
)

var genesis = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const oneYear = 365 * 24 * time.Hour

type harness struct {
	repo        *persistence.Repo
	clock       *clockwork.FakeClock
	settings    service.Settings
	locker      *lock.LedgerLock
	treasury    *service.TreasuryService
	scanner     *service.Scanner
	distributor *service.Distributor
	reporter    *service.Reporter
}

type harnessOpt struct {
	stakes  func(repo *persistence.Repo) domain.StakeRegistry // 替换质押登记，模拟故障
	members domain.MembershipDirectory                        // 非 nil 时启用会员目录
	locker  func(l *lock.LedgerLock) domain.BatchLocker       // 包一层租约，模拟批次被接管
	tweak   func(s *service.Settings)
}

func newHarness(t *testing.T, opt harnessOpt) *harness {
	t.Helper()
	db, err := orm.NewSQLiteMemory()
	require.NoError(t, err)
	require.NoError(t, persistence.AutoMigrate(db))

	repo := persistence.New(db)
	clock := clockwork.NewFakeClockAt(genesis)

	settings := service.DefaultSettings()
	settings.WalletAddress = "TreasuryWa11et"
	settings.TokenMint = "StakeMint"
	settings.RetryBackoff = 0
	if opt.tweak != nil {
		opt.tweak(&settings)
	}
	require.NoError(t, settings.Validate())

	var stakes domain.StakeRegistry = repo
	if opt.stakes != nil {
		stakes = opt.stakes(repo)
	}

	locker := lock.NewLedgerLock(repo, clock, 10*time.Minute)
	var batchLocker domain.BatchLocker = locker
	if opt.locker != nil {
		batchLocker = opt.locker(locker)
	}
	scanner := service.NewScanner(stakes, opt.members, settings.Rates, clock)
	return &harness{
		repo:        repo,
		clock:       clock,
		settings:    settings,
		locker:      locker,
		treasury:    service.NewTreasuryService(repo, repo, clock, settings),
		scanner:     scanner,
		distributor: service.NewDistributor(repo, stakes, repo, scanner, batchLocker, clock, settings),
		reporter:    service.NewReporter(repo, stakes, repo, scanner, batchLocker, settings),
	}
}

func (h *harness) addStake(t *testing.T, id string, principal string, member bool) {
	t.Helper()
	require.NoError(t, h.repo.CreateStake(context.Background(), &domain.Stake{
		StakeID:      id,
		StakerWallet: "wallet_" + id,
		AmountStaked: decimal.RequireFromString(principal),
		IsMember:     member,
		Status:       domain.StakeActive,
		CreatedAt:    h.clock.Now().UTC(),
	}))
}

func (h *harness) stake(t *testing.T, id string) *domain.Stake {
	t.Helper()
	s, err := h.repo.GetStake(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (h *harness) ledger(t *testing.T) *domain.Treasury {
	t.Helper()
	tr, err := h.repo.GetTreasury(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tr)
	return tr
}

func (h *harness) expectedReward(t *testing.T, principal string, member bool, elapsed time.Duration) decimal.Decimal {
	t.Helper()
	days := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(24 * time.Hour)))
	r, err := h.settings.Rates.Accrue(decimal.RequireFromString(principal), member, days)
	require.NoError(t, err)
	return r
}

// flakyRegistry 指定的质押回写失败，其余走真实仓储
type flakyRegistry struct {
	*persistence.Repo
	failStake string
	listErr   error
}

func (f *flakyRegistry) ListActiveStakes(ctx context.Context) ([]domain.Stake, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Repo.ListActiveStakes(ctx)
}

func (f *flakyRegistry) CreditReward(ctx context.Context, c domain.RewardCredit) error {
	if c.StakeID == f.failStake {
		return xerr.Wrap(xerr.PerStakeUpdateFailure, "registry rejected update", nil)
	}
	return f.Repo.CreditReward(ctx, c)
}

// staticDirectory 会员目录桩
type staticDirectory map[string]bool

func (d staticDirectory) IsMember(_ context.Context, wallet string) (bool, error) {
	return d[wallet], nil
}

// slowRegistry 拉列表前先执行一次 beforeList，模拟扫描卡住
type slowRegistry struct {
	*persistence.Repo
	beforeList func(ctx context.Context)
	fired      bool
}

func (s *slowRegistry) ListActiveStakes(ctx context.Context) ([]domain.Stake, error) {
	if !s.fired && s.beforeList != nil {
		s.fired = true
		s.beforeList(ctx)
	}
	return s.Repo.ListActiveStakes(ctx)
}

// hookedLocker 每次续租成功后回调，n 从 1 开始计数
type hookedLocker struct {
	*lock.LedgerLock
	afterRenew func(ctx context.Context, n int)
}

func (l *hookedLocker) Acquire(ctx context.Context) (domain.BatchLease, error) {
	lease, err := l.LedgerLock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &hookedLease{BatchLease: lease, afterRenew: l.afterRenew}, nil
}

type hookedLease struct {
	domain.BatchLease
	afterRenew func(ctx context.Context, n int)
	n          int
}

func (le *hookedLease) Renew(ctx context.Context) error {
	if err := le.BatchLease.Renew(ctx); err != nil {
		return err
	}
	le.n++
	if le.afterRenew != nil {
		le.afterRenew(ctx, le.n)
	}
	return nil
}
