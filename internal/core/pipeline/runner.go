package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/metrics"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/repository"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// Options 运行器并发参数
type Options struct {
	// GlobalConcurrency 全局并发许可数，同时也是 worker 池大小
	GlobalConcurrency int
	// ChannelConcurrency 每 (管控区域, 安装通道) 的并发许可数
	ChannelConcurrency int
	QueueSize          int
}

// DefaultOptions 默认并发参数
func DefaultOptions() Options {
	return Options{GlobalConcurrency: 100, ChannelConcurrency: 20, QueueSize: 4096}
}

// Runner 流水线运行器：worker 池并行跑实例，实例内原子串行
type Runner struct {
	executor *Executor
	records  repository.InstanceRecordRepository
	details  repository.StatusDetailRepository

	opts        Options
	globalGate  *Gate
	channelGate *gateSet

	queue chan *InstanceJob
	wg    sync.WaitGroup

	// 撤销标记与在途计数同一把锁，实例终态后标记随计数归零一并回收
	mu             sync.Mutex
	pendingByTask  map[int64]int
	revokedRecords map[int64]struct{}
	revokedTasks   map[int64]struct{}
}

// NewRunner 创建运行器
func NewRunner(executor *Executor, records repository.InstanceRecordRepository,
	details repository.StatusDetailRepository, opts Options) *Runner {
	if opts.GlobalConcurrency < 1 {
		opts.GlobalConcurrency = DefaultOptions().GlobalConcurrency
	}
	if opts.ChannelConcurrency < 1 {
		opts.ChannelConcurrency = DefaultOptions().ChannelConcurrency
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	return &Runner{
		executor:       executor,
		records:        records,
		details:        details,
		opts:           opts,
		globalGate:     NewGate(opts.GlobalConcurrency),
		channelGate:    newGateSet(opts.ChannelConcurrency),
		queue:          make(chan *InstanceJob, opts.QueueSize),
		pendingByTask:  make(map[int64]int),
		revokedRecords: make(map[int64]struct{}),
		revokedTasks:   make(map[int64]struct{}),
	}
}

// Start 启动 worker 池
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.opts.GlobalConcurrency; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
}

// Wait 等待所有 worker 退出
func (r *Runner) Wait() { r.wg.Wait() }

// Submit 投递实例流水线，队列满时阻塞形成天然背压
func (r *Runner) Submit(ctx context.Context, job *InstanceJob) error {
	r.mu.Lock()
	r.pendingByTask[job.Record.TaskID]++
	r.mu.Unlock()
	select {
	case r.queue <- job:
		return nil
	case <-ctx.Done():
		r.releaseJob(job)
		return pkgErrors.WrapKind(pkgErrors.KindCancelled, "投递实例被取消", ctx.Err())
	}
}

// Revoke 撤销任务下全部实例；正在执行的原子允许完成
func (r *Runner) Revoke(taskID int64) {
	r.mu.Lock()
	r.revokedTasks[taskID] = struct{}{}
	r.mu.Unlock()
}

// RevokeInstance 撤销单个实例
func (r *Runner) RevokeInstance(recordID int64) {
	r.mu.Lock()
	r.revokedRecords[recordID] = struct{}{}
	r.mu.Unlock()
}

func (r *Runner) isRevoked(job *InstanceJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.revokedTasks[job.Record.TaskID]; ok {
		return true
	}
	_, ok := r.revokedRecords[job.Record.ID]
	return ok
}

// releaseJob 实例终态后回收标记；任务在途计数归零时任务级标记一并清除
func (r *Runner) releaseJob(job *InstanceJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.revokedRecords, job.Record.ID)
	taskID := job.Record.TaskID
	if r.pendingByTask[taskID]--; r.pendingByTask[taskID] <= 0 {
		delete(r.pendingByTask, taskID)
		delete(r.revokedTasks, taskID)
	}
}

func (r *Runner) worker(ctx context.Context, index int) {
	defer r.wg.Done()
	label := metrics.WorkerInstanceLabel("pipeline", index)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.queue:
			if !ok {
				return
			}
			r.runInstance(ctx, job, label)
			r.releaseJob(job)
		}
	}
}

// runInstance 获取两级并发许可后按步骤顺序串行执行实例内原子
// 实例状态机只在这一条协作任务里推进：中间步骤的成功收尾只落详情行，终态由最后一步或失败路径写入
func (r *Runner) runInstance(ctx context.Context, job *InstanceJob, workerLabel string) {
	record := job.Record
	if len(job.Steps) == 0 {
		return
	}
	if err := r.records.UpdateStatus(record.ID, constants.StatusScheduled); err != nil {
		logger.Error("实例调度状态写入失败", zap.Int64("record_id", record.ID), zap.Error(err))
		return
	}

	if err := r.globalGate.Acquire(ctx); err != nil {
		r.finishRevoked(job, job.Steps[0], "等待全局并发许可时被终止")
		return
	}
	defer r.globalGate.Release()

	channelGate := r.channelGate.get(job.ChannelKey())
	if err := channelGate.Acquire(ctx); err != nil {
		r.finishRevoked(job, job.Steps[0], "等待租户并发许可时被终止")
		return
	}
	defer channelGate.Release()

	if err := r.records.UpdateStatus(record.ID, constants.StatusRunning); err != nil {
		logger.Error("实例运行状态写入失败", zap.Int64("record_id", record.ID), zap.Error(err))
		return
	}

	lastStep := len(job.Steps) - 1
	for si, step := range job.Steps {
		state := &execState{
			step: step,
			onRateLimited: func() {
				// 限流后降速，正在运行的实例不中断
				r.globalGate.Throttle()
				channelGate.Throttle()
				logger.Warn("外部系统限流，并发许可减半",
					zap.String("channel", job.ChannelKey()),
					zap.Int("global_effective", r.globalGate.Effective()))
			},
		}

		for ai, act := range step.Activities {
			if r.isRevoked(job) {
				r.skipRemaining(job, si, ai)
				r.finishRevoked(job, step, "任务被撤销")
				return
			}
			// 中间步骤的成功收尾只留详情行，实例终态由最后一步写入
			if act.Kind == KindRecordSuccess && si != lastStep {
				r.appendDetail(record.ID, act.ID, constants.StatusSuccess, "")
				continue
			}
			if failErr := r.runActivity(ctx, job, act, state, workerLabel); failErr != nil {
				if act.OnFailure == OnFailureContinue {
					logger.Warn("原子失败但按策略继续",
						zap.String("activity", act.ID), zap.Error(failErr))
					continue
				}
				r.failInstance(job, step, act, failErr)
				return
			}
		}
	}
}

// runActivity 执行单个原子，按策略重试；每次状态迁移追加一行状态详情
func (r *Runner) runActivity(ctx context.Context, job *InstanceJob, act Activity,
	state *execState, workerLabel string) error {
	record := job.Record
	r.appendDetail(record.ID, act.ID, constants.StatusPending, "")

	var lastErr error
	for attempt := 1; attempt <= act.Retry.MaxAttempts; attempt++ {
		r.appendDetail(record.ID, act.ID, constants.StatusRunning,
			fmt.Sprintf("第 %d/%d 次执行", attempt, act.Retry.MaxAttempts))

		started := time.Now()
		actCtx, cancel := context.WithTimeout(ctx, act.Timeout)
		err := r.executor.Execute(actCtx, job, act, attempt, state)
		cancel()
		// 原子自身的期限触发按超时归类，整体取消不算
		if err != nil && actCtx.Err() != nil && ctx.Err() == nil &&
			pkgErrors.KindOf(err) != pkgErrors.KindActivityTimeout {
			err = pkgErrors.WrapKind(pkgErrors.KindActivityTimeout, "原子执行超时", err)
		}
		metrics.PipelineActivityDurationSeconds.
			WithLabelValues(act.Kind, workerLabel).Observe(time.Since(started).Seconds())

		if err == nil {
			r.appendDetail(record.ID, act.ID, constants.StatusSuccess, "")
			metrics.PipelineActivityTotal.WithLabelValues(act.Kind, constants.StatusSuccess, workerLabel).Inc()
			return nil
		}
		lastErr = stampError(err, act.ID, attempt)

		kind := pkgErrors.KindOf(err)
		if isInvariantViolation(err) {
			metrics.InvariantViolationTotal.
				WithLabelValues(metrics.Hostname(), invariantFingerprint(act, err)).Inc()
		}
		if attempt < act.Retry.MaxAttempts && act.Retry.ShouldRetry(kind) {
			r.appendDetail(record.ID, act.ID, constants.StatusRetryWait, lastErr.Error())
			metrics.PipelineActivityTotal.WithLabelValues(act.Kind, constants.StatusRetryWait, workerLabel).Inc()
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(act.Retry.Backoff):
			}
			continue
		}
		break
	}

	r.appendDetail(record.ID, act.ID, constants.StatusFailed, lastErr.Error())
	metrics.PipelineActivityTotal.WithLabelValues(act.Kind, constants.StatusFailed, workerLabel).Inc()
	return lastErr
}

// skipRemaining 撤销后当前步骤的剩余原子与后续步骤全部跳过
func (r *Runner) skipRemaining(job *InstanceJob, stepIndex, actIndex int) {
	for si := stepIndex; si < len(job.Steps); si++ {
		from := 0
		if si == stepIndex {
			from = actIndex
		}
		for _, act := range job.Steps[si].Activities[from:] {
			if act.Kind == KindRecordSuccess {
				continue
			}
			r.appendDetail(job.Record.ID, act.ID, constants.StatusSkipped, constants.StatusRevoked)
		}
	}
}

func (r *Runner) finishRevoked(job *InstanceJob, step StepRun, reason string) {
	r.appendDetail(job.Record.ID, recordFailureNodeID(step), constants.StatusFailed, reason)
	if err := r.records.UpdateStatus(job.Record.ID, constants.StatusRevoked); err != nil {
		logger.Error("实例撤销状态写入失败", zap.Int64("record_id", job.Record.ID), zap.Error(err))
	}
}

func (r *Runner) failInstance(job *InstanceJob, step StepRun, act Activity, failErr error) {
	r.appendDetail(job.Record.ID, recordFailureNodeID(step),
		constants.StatusFailed, fmt.Sprintf("原子 %s 失败: %s", act.ID, failErr.Error()))
	if err := r.records.UpdateStatus(job.Record.ID, constants.StatusFailed); err != nil {
		logger.Error("实例失败状态写入失败", zap.Int64("record_id", job.Record.ID), zap.Error(err))
	}
}

func recordFailureNodeID(step StepRun) string {
	return activityID(step.Step.ID, len(step.Activities), KindRecordFailure)
}

func (r *Runner) appendDetail(recordID int64, nodeID, status, log string) {
	err := r.details.Append(&model.SubscriptionInstanceStatusDetail{
		SubscriptionInstanceRecordID: recordID,
		NodeID:                       nodeID,
		Status:                       status,
		Log:                          log,
		CreateTime:                   time.Now(),
	})
	if err != nil {
		logger.Error("状态详情写入失败",
			zap.Int64("record_id", recordID), zap.String("node_id", nodeID), zap.Error(err))
	}
}

// stampError 给错误盖上原子与尝试序号
func stampError(err error, activityID string, attempt int) error {
	if appErr, ok := err.(*pkgErrors.AppError); ok {
		return &pkgErrors.AppError{
			Code:    appErr.Code,
			Kind:    appErr.Kind,
			Message: fmt.Sprintf("[%s#%d] %s", activityID, attempt, appErr.Message),
			Err:     appErr.Err,
		}
	}
	return fmt.Errorf("[%s#%d] %w", activityID, attempt, err)
}

// isInvariantViolation 只有显式标记的不变量错误才计入告警指标
func isInvariantViolation(err error) bool {
	appErr, ok := err.(*pkgErrors.AppError)
	return ok && appErr.Kind == pkgErrors.KindInternalInvariant
}

func invariantFingerprint(act Activity, err error) string {
	message := err.Error()
	if appErr, ok := err.(*pkgErrors.AppError); ok {
		message = appErr.Message
	}
	if len(message) > 64 {
		message = message[:64]
	}
	return act.Kind + ":" + message
}
