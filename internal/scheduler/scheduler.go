package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/esb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/config"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/repository"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// 卡死任务判定阈值
const (
	stuckNotReadyAge   = 10 * time.Minute
	stuckNoProgressAge = 30 * time.Minute
	stuckBatchLimit    = 500
	identityWipeLimit  = 1000
)

// Scheduler 周期调和器，每个循环独立注册、单次工作量有界
type Scheduler struct {
	cron          *cron.Cron
	cfg           *config.ReconcilerConfig
	cronSchedules map[string]cron.EntryID

	settings   repository.GlobalSettingsRepository
	details    repository.StatusDetailRepository
	jobMaps    repository.JobMapRepository
	tasks      repository.SubscriptionTaskRepository
	records    repository.InstanceRecordRepository
	traces     repository.RequestTraceRepository
	identities repository.IdentityRepository
	hosts      repository.HostRepository
	cmdb       cmdb.Client
	publicKeys *esb.PublicKeyCache
}

// NewScheduler 创建调和器
func NewScheduler(
	cfg *config.ReconcilerConfig,
	settings repository.GlobalSettingsRepository,
	details repository.StatusDetailRepository,
	jobMaps repository.JobMapRepository,
	tasks repository.SubscriptionTaskRepository,
	records repository.InstanceRecordRepository,
	traces repository.RequestTraceRepository,
	identities repository.IdentityRepository,
	hosts repository.HostRepository,
	cmdbClient cmdb.Client,
	publicKeys *esb.PublicKeyCache,
) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		cfg:           cfg,
		cronSchedules: make(map[string]cron.EntryID),
		settings:      settings,
		details:       details,
		jobMaps:       jobMaps,
		tasks:         tasks,
		records:       records,
		traces:        traces,
		identities:    identities,
		hosts:         hosts,
		cmdb:          cmdbClient,
		publicKeys:    publicKeys,
	}
}

// Start 注册全部周期任务并启动
func (s *Scheduler) Start() error {
	logger.Info("启动周期调和器...")

	loops := []struct {
		name string
		spec string
		fn   func()
	}{
		{"clean_subscription_data", s.cfg.CleanSubscriptionCron, s.cleanSubscriptionData},
		{"recover_stuck_tasks", s.cfg.StuckTaskCron, s.recoverStuckTasks},
		{"trace_expiry", s.cfg.TraceExpiryCron, s.expireTraces},
		{"cache_refresh", s.cfg.CacheRefreshCron, s.refreshCaches},
		{"host_event_sync", s.cfg.HostEventSyncCron, s.syncHostEvents},
	}
	for _, loop := range loops {
		entryID, err := s.cron.AddFunc(loop.spec, loop.fn)
		if err != nil {
			logger.Error("注册周期任务失败",
				zap.String("loop", loop.name), zap.String("cron", loop.spec), zap.Error(err))
			return err
		}
		s.cronSchedules[loop.name] = entryID
		logger.Info("周期任务已注册",
			zap.String("loop", loop.name), zap.String("cron", loop.spec))
	}

	s.cron.Start()
	logger.Info("周期调和器启动成功")
	return nil
}

// Stop 停止调和器，等待正在执行的循环完成
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("周期调和器已停止")
}

// cleanSubscriptionData 清理订阅状态详情与作业映射，单次有界
func (s *Scheduler) cleanSubscriptionData() {
	settings := model.CleanSubscriptionDataMap{
		Limit:                     constants.DefaultCleanRecordLimit,
		AliveDays:                 constants.DefaultAliveDays,
		SubInsDetailSaveLogStatus: []string{constants.StatusFailed},
	}
	if _, err := s.settings.GetJSON(constants.KeyCleanSubscriptionDataMap, &settings); err != nil {
		logger.Error("读取清理配置失败", zap.Error(err))
		return
	}
	if settings.EnableCleanSubscriptionData != nil && !*settings.EnableCleanSubscriptionData {
		return
	}
	if settings.Limit <= 0 {
		settings.Limit = constants.DefaultCleanRecordLimit
	}
	if settings.AliveDays <= 0 {
		settings.AliveDays = constants.DefaultAliveDays
	}

	deleted, err := s.details.Prune(settings.AliveDays, settings.Limit, settings.SubInsDetailSaveLogStatus)
	if err != nil {
		logger.Error("清理状态详情失败", zap.Error(err))
	} else if deleted > 0 {
		logger.Info("状态详情已清理", zap.Int64("deleted", deleted),
			zap.Int("alive_days", settings.AliveDays))
	}

	// 作业映射默认不清理，显式配置状态集后才启用
	mapDeleted, err := s.jobMaps.PruneByStatus(settings.JobMapCleanStatus, settings.Limit)
	if err != nil {
		logger.Error("清理作业映射失败", zap.Error(err))
	} else if mapDeleted > 0 {
		logger.Info("作业映射已清理", zap.Int64("deleted", mapDeleted))
	}
}

// recoverStuckTasks 回收范围展开超时的任务与长期无进展的实例
func (s *Scheduler) recoverStuckTasks() {
	tasks, err := s.tasks.ListStuckNotReady(stuckNotReadyAge, stuckBatchLimit)
	if err != nil {
		logger.Error("查询卡死任务失败", zap.Error(err))
	} else {
		for _, task := range tasks {
			if err := s.tasks.MarkFailed(task.ID, "scope expansion timed out"); err != nil {
				logger.Error("标记卡死任务失败", zap.Int64("task_id", task.ID), zap.Error(err))
			}
		}
		if len(tasks) > 0 {
			logger.Warn("已回收范围展开超时的任务", zap.Int("count", len(tasks)))
		}
	}

	records, err := s.records.ListRunningWithoutProgress(stuckNoProgressAge, stuckBatchLimit)
	if err != nil {
		logger.Error("查询无进展实例失败", zap.Error(err))
		return
	}
	for _, record := range records {
		// 先写状态再认为锁可释放，runner 恢复执行也不会回退终态
		if err := s.details.Append(&model.SubscriptionInstanceStatusDetail{
			SubscriptionInstanceRecordID: record.ID,
			NodeID:                       "reconciler",
			Status:                       constants.StatusFailed,
			Log:                          "no progress",
			CreateTime:                   time.Now(),
		}); err != nil {
			logger.Error("写入无进展详情失败", zap.Int64("record_id", record.ID), zap.Error(err))
			continue
		}
		if err := s.records.UpdateStatus(record.ID, constants.StatusFailed); err != nil {
			logger.Error("标记无进展实例失败", zap.Int64("record_id", record.ID), zap.Error(err))
		}
	}
	if len(records) > 0 {
		logger.Warn("已回收无进展实例", zap.Int("count", len(records)))
	}
}

// expireTraces 清理过期请求追踪与超期主机认证资料
func (s *Scheduler) expireTraces() {
	aliveDays := s.cfg.TraceAliveDays
	if aliveDays <= 0 {
		aliveDays = 7
	}
	deleted, err := s.traces.DeleteOlderThan(aliveDays)
	if err != nil {
		logger.Error("清理请求追踪失败", zap.Error(err))
	} else if deleted > 0 {
		logger.Info("请求追踪已清理", zap.Int64("deleted", deleted))
	}

	wiped, err := s.identities.WipeExpired(identityWipeLimit)
	if err != nil {
		logger.Error("清除过期认证资料失败", zap.Error(err))
	} else if wiped > 0 {
		logger.Info("过期认证资料已清除", zap.Int64("wiped", wiped))
	}
}

// syncHostEvents 消费 CMDB 主机事件，维护纳管主机镜像；游标落库，重启后续接
func (s *Scheduler) syncHostEvents() {
	if s.cmdb == nil {
		return
	}
	var cursor string
	if _, err := s.settings.GetJSON(constants.KeyHostEventCursor, &cursor); err != nil {
		logger.Error("读取主机事件游标失败", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	events, next, err := s.cmdb.WatchHostEvents(ctx, cursor)
	if err != nil {
		logger.Error("拉取主机事件失败", zap.Error(err))
		return
	}

	for _, event := range events {
		if event.Host == nil {
			continue
		}
		switch event.Type {
		case "delete":
			if err := s.hosts.SoftDelete(event.Host.BkHostID); err != nil {
				logger.Error("主机事件删除失败",
					zap.Int64("bk_host_id", event.Host.BkHostID), zap.Error(err))
			}
		case "create", "update":
			host, err := s.hosts.FindByID(event.Host.BkHostID)
			if err != nil {
				// 未纳管的主机不落库，安装时再注册
				if !errors.Is(err, pkgErrors.ErrHostNotFound) {
					logger.Error("主机事件查询失败",
						zap.Int64("bk_host_id", event.Host.BkHostID), zap.Error(err))
				}
				continue
			}
			if event.Host.BkHostInnerIP != "" {
				host.InnerIP = event.Host.BkHostInnerIP
			}
			if event.Host.BkHostOuterIP != "" {
				host.OuterIP = event.Host.BkHostOuterIP
			}
			if event.Host.BkOsType != "" {
				host.OsType = event.Host.BkOsType
			}
			host.BkBizID = event.Host.BkBizID
			if err := s.hosts.Save(host); err != nil {
				logger.Error("主机事件更新失败",
					zap.Int64("bk_host_id", host.BkHostID), zap.Error(err))
			}
		}
	}

	if next != cursor {
		raw, _ := json.Marshal(next)
		if err := s.settings.Set(constants.KeyHostEventCursor, raw); err != nil {
			logger.Error("保存主机事件游标失败", zap.Error(err))
		}
	}
	if len(events) > 0 {
		logger.Info("主机事件已同步", zap.Int("count", len(events)))
	}
}

// refreshCaches 刷新网关公钥，失败保留上一份可用值
func (s *Scheduler) refreshCaches() {
	if s.publicKeys == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = s.publicKeys.Refresh(ctx)
}
