package config

import (
	"fmt"

	"github.com/spf13/viper"
)

var GlobalConfig *Config

// Config 全局配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Crypto     CryptoConfig     `mapstructure:"crypto"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Esb        EsbConfig        `mapstructure:"esb"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RunEnv     string           `mapstructure:"run_env"` // ce / ee
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name string `mapstructure:"name"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	LogLevel        string `mapstructure:"log_level"`         // SQL日志级别: silent/error/warn/info
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 启动时同步表结构，生产环境建议关闭
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

// CryptoConfig 加密配置，用于主机认证信息落库
type CryptoConfig struct {
	AESKey string `mapstructure:"aes_key"` // 32字节
}

// RunnerConfig 流水线执行器配置
type RunnerConfig struct {
	GlobalConcurrency  int    `mapstructure:"global_concurrency"`  // 全局并发上限，默认 100
	ChannelConcurrency int    `mapstructure:"channel_concurrency"` // (管控区域, 安装通道) 并发上限，默认 20
	InstallTimeout     string `mapstructure:"install_timeout"`     // 安装类轮询绝对上限，默认 30m
	PushConfigTimeout  string `mapstructure:"push_config_timeout"` // 推送配置轮询绝对上限，默认 5m
	PollBackoffCap     string `mapstructure:"poll_backoff_cap"`    // 轮询退避上限，默认 30s
}

// ReconcilerConfig 周期任务配置
type ReconcilerConfig struct {
	CleanSubscriptionCron string `mapstructure:"clean_subscription_cron"` // 默认每5分钟
	StuckTaskCron         string `mapstructure:"stuck_task_cron"`         // 默认每1分钟
	TraceExpiryCron       string `mapstructure:"trace_expiry_cron"`       // 默认每天零点
	CacheRefreshCron      string `mapstructure:"cache_refresh_cron"`      // 默认每10分钟
	HostEventSyncCron     string `mapstructure:"host_event_sync_cron"`    // 默认每1分钟
	TraceAliveDays        int    `mapstructure:"trace_alive_days"`        // 请求追踪保留天数，默认 7
}

// EsbConfig 蓝鲸 ESB 网关配置，CMDB/作业平台/GSE 接口统一经由网关调用
type EsbConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AppCode   string `mapstructure:"app_code"`
	AppSecret string `mapstructure:"app_secret"`
	Timeout   string `mapstructure:"timeout"`    // 单次调用超时，默认 30s
	TjjTicket string `mapstructure:"tjj_ticket"` // 铁将军取密凭据，空则不启用托管取密
}

// StorageConfig 制品存储配置
type StorageConfig struct {
	Type     string `mapstructure:"type"`      // file / bkrepo
	BasePath string `mapstructure:"base_path"` // file 类型的根目录
	Endpoint string `mapstructure:"endpoint"`  // bkrepo 地址
	Project  string `mapstructure:"project"`
	Bucket   string `mapstructure:"bucket"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 读取环境变量
	v.AutomaticEnv()

	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 设置全局配置
	GlobalConfig = config

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("run_env", "ee")
	v.SetDefault("runner.global_concurrency", 100)
	v.SetDefault("runner.channel_concurrency", 20)
	v.SetDefault("runner.install_timeout", "30m")
	v.SetDefault("runner.push_config_timeout", "5m")
	v.SetDefault("runner.poll_backoff_cap", "30s")
	v.SetDefault("reconciler.clean_subscription_cron", "0 */5 * * * *")
	v.SetDefault("reconciler.stuck_task_cron", "0 * * * * *")
	v.SetDefault("reconciler.trace_expiry_cron", "0 0 0 * * *")
	v.SetDefault("reconciler.cache_refresh_cron", "0 */10 * * * *")
	v.SetDefault("reconciler.host_event_sync_cron", "30 * * * * *")
	v.SetDefault("reconciler.trace_alive_days", 7)
	v.SetDefault("esb.timeout", "30s")
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.base_path", "/data/bkee/public/bknodeman")
}

// GetDSN 获取数据库DSN
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}
