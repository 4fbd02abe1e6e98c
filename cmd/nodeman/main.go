package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/esb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/gse"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/jobplatform"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/password"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/storage"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/api/router"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/pipeline"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/render"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/scope"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/config"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/database"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/repository"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/scheduler"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/service"
)

var (
	configFile = flag.String("config", "", "配置文件路径 (例如: -config=configs/config.yaml)")
	dumpConfig = flag.Bool("dump-config", false, "输出合并默认值后的生效配置并退出")
	version    = flag.Bool("version", false, "显示版本信息")
)

const (
	appVersion = "1.0.0"
	appName    = "bk-nodeman"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	// init config logger
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dumpConfig {
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Printf("序列化配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(raw))
		os.Exit(0)
	}
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Close()
	}()

	logger.Info(fmt.Sprintf("服务 %s 启动中...", appName), zap.String("version", appVersion))

	// 密码缓冲区防护，退出时统一擦除
	password.Init()
	defer password.Purge()

	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer func() {
		_ = database.Close()
	}()
	logger.Info(fmt.Sprintf("数据库连接成功 %s:%v", cfg.Database.Host, cfg.Database.Port),
		zap.String("database", cfg.Database.Database))

	db := database.GetDB()

	// Repository
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	taskRepo := repository.NewSubscriptionTaskRepository(db)
	recordRepo := repository.NewInstanceRecordRepository(db)
	detailRepo := repository.NewStatusDetailRepository(db)
	jobMapRepo := repository.NewJobMapRepository(db)
	jobRepo := repository.NewJobRepository(db)
	hostRepo := repository.NewHostRepository(db)
	identityRepo := repository.NewIdentityRepository(db)
	apRepo := repository.NewAccessPointRepository(db)
	channelRepo := repository.NewInstallChannelRepository(db)
	settingsRepo := repository.NewGlobalSettingsRepository(db)
	traceRepo := repository.NewRequestTraceRepository(db)

	// 外部系统客户端，统一经 ESB 网关
	esbClient := esb.NewClient(cfg.Esb)
	cmdbClient := cmdb.NewEsbClient(esbClient)
	jobClient := jobplatform.NewEsbClient(esbClient)
	gseClient := gse.NewEsbClient(esbClient)
	publicKeys := esb.NewPublicKeyCache(esbClient)

	var store storage.Store
	if cfg.Storage.Type == "bkrepo" {
		store = storage.NewBkRepoStore(cfg.Storage)
	} else {
		store = storage.NewFileStore(cfg.Storage.BasePath)
	}

	// 流水线执行器与运行器
	executor := pipeline.NewExecutor(pipeline.ExecutorDeps{
		JobClient:  jobClient,
		GseClient:  gseClient,
		CmdbClient: cmdbClient,
		Store:      store,
		Renderer:   render.NewRenderer(),
		Hosts:      hostRepo,
		JobMaps:    jobMapRepo,
		Records:    recordRepo,
		RunEnv:     cfg.RunEnv,
		FetchPublicKey: func(ctx context.Context) error {
			return publicKeys.Refresh(ctx)
		},
	})
	runner := pipeline.NewRunner(executor, recordRepo, detailRepo, pipeline.Options{
		GlobalConcurrency:  cfg.Runner.GlobalConcurrency,
		ChannelConcurrency: cfg.Runner.ChannelConcurrency,
	})
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	runner.Start(runnerCtx)

	// 托管取密按凭据开关，未配置时跳过
	var passwordProvider password.Provider
	if cfg.Esb.TjjTicket != "" {
		passwordProvider = password.NewTjjProvider(esbClient, cfg.Esb.TjjTicket)
	}

	// Service
	subscriptionService := service.NewSubscriptionService(
		subscriptionRepo, taskRepo, recordRepo, detailRepo, jobRepo,
		hostRepo, identityRepo, apRepo, channelRepo, settingsRepo,
		scope.NewResolver(cmdbClient), runner, passwordProvider, cfg.RunEnv,
	)

	// 周期调和器
	reconciler := scheduler.NewScheduler(&cfg.Reconciler,
		settingsRepo, detailRepo, jobMapRepo, taskRepo, recordRepo,
		traceRepo, identityRepo, hostRepo, cmdbClient, publicKeys)
	if err := reconciler.Start(); err != nil {
		logger.Fatal("启动周期调和器失败", zap.Error(err))
	}

	// HTTP 服务
	engine := router.Setup(cfg, subscriptionService, cmdbClient, traceRepo)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}
	go func() {
		logger.Info("HTTP 服务监听中", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务异常退出", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("收到退出信号，开始优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP 服务关闭失败", zap.Error(err))
	}
	reconciler.Stop()
	stopRunner()
	runner.Wait()

	logger.Info("服务已退出")
}

// getConfigPath 优先级: 命令行参数 > 环境变量 > 默认路径
func getConfigPath() string {
	if *configFile != "" {
		return *configFile
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	return ""
}
