package orm

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Type        string // mysql / sqlite
	DSN         string // 连接字符串
	MaxIdle     int    // 最大空闲连接
	MaxOpen     int    // 最大打开连接
	MaxLifetime int    // 连接存活秒数
	LogSQL      bool   // 开发环境打印 SQL
}

// Open 按类型初始化 GORM
func Open(c *Config) (*gorm.DB, error) {
	return open(c, log.New(os.Stdout, "\r\n", log.LstdFlags))
}

// newLogger 查不到记录是正常分支（比如国库未初始化），不当错误打印
func newLogger(w logger.Writer, level logger.LogLevel) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func open(c *Config, w logger.Writer) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Type {
	case "", "mysql":
		dsn, err := normalizeMySQLDSN(c.DSN)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(c.DSN)
	default:
		return nil, fmt.Errorf("unsupported db type %q", c.Type)
	}

	logLevel := logger.Warn
	if c.LogSQL {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newLogger(w, logLevel),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true, // 唯一键冲突统一成 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// sqlite 只允许一个写连接，多连接的 :memory: 还会各自是一个库
	if c.Type == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	sqlDB.SetMaxIdleConns(c.MaxIdle)
	sqlDB.SetMaxOpenConns(c.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	return db, nil
}

// NewMySQL 初始化失败直接 panic，给 main 用
func NewMySQL(c *Config) *gorm.DB {
	c.Type = "mysql"
	db, err := Open(c)
	if err != nil {
		panic("failed to connect database: " + err.Error())
	}
	return db
}

// NewSQLiteMemory 单连接内存库，测试和本地演示用
func NewSQLiteMemory() (*gorm.DB, error) {
	return Open(&Config{Type: "sqlite", DSN: ":memory:"})
}

// normalizeMySQLDSN 时间列必须按 UTC 解析成 time.Time，否则乐观条件里的时间比较会错位
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysqlDriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}
