package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/config"
	pkgLogger "github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
)

var DB *gorm.DB

// migrations 节点管理全部表，建表序无依赖约束
var migrations = []interface{}{
	&model.Subscription{},
	&model.SubscriptionStep{},
	&model.SubscriptionTask{},
	&model.SubscriptionInstanceRecord{},
	&model.SubscriptionInstanceStatusDetail{},
	&model.JobSubscriptionInstanceMap{},
	&model.Job{},
	&model.RequestTraceRecord{},
	&model.Host{},
	&model.IdentityData{},
	&model.AccessPoint{},
	&model.Cloud{},
	&model.InstallChannel{},
	&model.GlobalSettings{},
}

// Init 初始化数据库连接并同步表结构
func Init(cfg *config.DatabaseConfig) error {
	logLevel := parseLogLevel(cfg.LogLevel)
	gormConfig := &gorm.Config{
		Logger: logger.New(pkgLogger.GetWriter(), logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logLevel,
			Colorful:      true,
		}).LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(cfg.GetDSN()), gormConfig)
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取数据库实例失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("数据库连接测试失败: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(migrations...); err != nil {
			return fmt.Errorf("同步表结构失败: %w", err)
		}
	}

	DB = db
	return nil
}

// Close 关闭数据库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return DB
}

// parseLogLevel 解析SQL日志级别，未识别时关闭SQL日志
func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}
