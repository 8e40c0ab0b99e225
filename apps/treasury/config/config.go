package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"stakex.com/apps/treasury/internal/core/service"
	vipConfig "stakex.com/pkg/config"
	"stakex.com/pkg/orm"
	"stakex.com/pkg/xredis"
)

const ServiceName = "treasury-service"

// 总配置，对应 config/treasury-service.yaml
type Config struct {
	Name         string             `mapstructure:"name" yaml:"name"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	HTTP         HTTPConfig         `mapstructure:"http" yaml:"http"`
	DB           DBConfig           `mapstructure:"db" yaml:"db"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Trace        TraceConfig        `mapstructure:"trace" yaml:"trace"`
	Lock         LockConfig         `mapstructure:"lock" yaml:"lock"`
	Treasury     TreasuryConfig     `mapstructure:"treasury" yaml:"treasury"`
	Distribution DistributionConfig `mapstructure:"distribution" yaml:"distribution"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type HTTPConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // 每个 ip+路由每秒请求数
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

type DBConfig struct {
	Type        string `mapstructure:"type" yaml:"type"` // mysql / sqlite
	SourceName  string `mapstructure:"source_name" yaml:"source_name"`
	MaxIdle     int    `mapstructure:"max_idle" yaml:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open" yaml:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime" yaml:"max_lifetime"` // 秒
	LogSQL      bool   `mapstructure:"log_sql" yaml:"log_sql"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// TraceConfig endpoint 为空不开启
type TraceConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// LockConfig backend: ledger（国库行租约） / redis
type LockConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Key        string `mapstructure:"key" yaml:"key"`
	TTLSeconds int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

// TreasuryConfig 金额和利率都是字符串，按 decimal 解析
type TreasuryConfig struct {
	BaseAPY                  string `mapstructure:"base_apy" yaml:"base_apy"`
	MemberBonusAPY           string `mapstructure:"member_bonus_apy" yaml:"member_bonus_apy"`
	CompoundFrequencyDays    int    `mapstructure:"compound_frequency_days" yaml:"compound_frequency_days"`
	MinimumClaimThreshold    string `mapstructure:"minimum_claim_threshold" yaml:"minimum_claim_threshold"`
	TreasuryWalletIdentifier string `mapstructure:"treasury_wallet_identifier" yaml:"treasury_wallet_identifier"`
	RewardTokenIdentifier    string `mapstructure:"reward_token_identifier" yaml:"reward_token_identifier"`
	AmountScale              int32  `mapstructure:"amount_scale" yaml:"amount_scale"`
	UseMembershipDirectory   bool   `mapstructure:"use_membership_directory" yaml:"use_membership_directory"`
}

type DistributionConfig struct {
	Workers     int `mapstructure:"workers" yaml:"workers"`
	MaxRetries  int `mapstructure:"max_retries" yaml:"max_retries"`
	RecentLimit int `mapstructure:"recent_limit" yaml:"recent_limit"`
}

// Defaults 每个配置项都要有缺省值，环境变量覆盖才生效
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"name":                                ServiceName,
		"log.level":                           "info",
		"log.file":                            "",
		"http.addr":                           ":8090",
		"http.rate_limit":                     50,
		"http.burst":                          100,
		"db.type":                             "sqlite",
		"db.source_name":                      "file:treasury.db?_pragma=busy_timeout(5000)",
		"db.max_idle":                         10,
		"db.max_open":                         100,
		"db.max_lifetime":                     3600,
		"db.log_sql":                          false,
		"db.auto_migrate":                     true,
		"redis.addr":                          "127.0.0.1:6379",
		"redis.password":                      "",
		"redis.db":                            0,
		"trace.endpoint":                      "",
		"lock.backend":                        "ledger",
		"lock.key":                            "stakex:treasury:batch_lock",
		"lock.ttl_seconds":                    600,
		"treasury.base_apy":                   "0.07",
		"treasury.member_bonus_apy":           "0.02",
		"treasury.compound_frequency_days":    365,
		"treasury.minimum_claim_threshold":    "1000",
		"treasury.treasury_wallet_identifier": "",
		"treasury.reward_token_identifier":    "",
		"treasury.amount_scale":               8,
		"treasury.use_membership_directory":   false,
		"distribution.workers":                8,
		"distribution.max_retries":            3,
		"distribution.recent_limit":           10,
	}
}

// Load file 为空时按 ./config/treasury-service.yaml 查找，找不到只用缺省值
func Load(file string) (*Config, error) {
	var c Config
	if _, err := vipConfig.Load(ServiceName, file, &c, Defaults()); err != nil {
		return nil, err
	}
	return &c, nil
}

// Settings 转成业务参数并校验
func (c *Config) Settings() (service.Settings, error) {
	s := service.DefaultSettings()

	var err error
	if s.Rates.BaseAPY, err = parseDecimal("treasury.base_apy", c.Treasury.BaseAPY); err != nil {
		return s, err
	}
	if s.Rates.MemberBonusAPY, err = parseDecimal("treasury.member_bonus_apy", c.Treasury.MemberBonusAPY); err != nil {
		return s, err
	}
	if s.MinimumClaimThreshold, err = parseDecimal("treasury.minimum_claim_threshold", c.Treasury.MinimumClaimThreshold); err != nil {
		return s, err
	}
	s.Rates.CompoundFrequency = c.Treasury.CompoundFrequencyDays
	s.Rates.Scale = c.Treasury.AmountScale
	s.WalletAddress = c.Treasury.TreasuryWalletIdentifier
	s.TokenMint = c.Treasury.RewardTokenIdentifier
	s.PayoutWorkers = c.Distribution.Workers
	s.MaxRetries = c.Distribution.MaxRetries
	s.RecentLimit = c.Distribution.RecentLimit

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid treasury config: %w", err)
	}
	return s, nil
}

func (c *Config) ORM() *orm.Config {
	return &orm.Config{
		Type:        c.DB.Type,
		DSN:         c.DB.SourceName,
		MaxIdle:     c.DB.MaxIdle,
		MaxOpen:     c.DB.MaxOpen,
		MaxLifetime: c.DB.MaxLifetime,
		LogSQL:      c.DB.LogSQL,
	}
}

func (c *Config) RedisOptions() *xredis.Config {
	return &xredis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

func (c *Config) LockTTL() time.Duration {
	if c.Lock.TTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

func parseDecimal(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a decimal: %w", key, raw, err)
	}
	return d, nil
}
