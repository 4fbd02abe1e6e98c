package pipeline

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/gse"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/jobplatform"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/storage"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/render"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// flakyJobClient 前 failures 次 PushFile 返回注入错误，之后转交底层模拟客户端
type flakyJobClient struct {
	*jobplatform.MockClient
	failures int
	failErr  error
}

func (f *flakyJobClient) PushFile(ctx context.Context, hosts []jobplatform.TargetHost,
	files []jobplatform.FileSource, account string) (int64, error) {
	if f.failures > 0 {
		f.failures--
		return 0, f.failErr
	}
	return f.MockClient.PushFile(ctx, hosts, files, account)
}

type runnerFixture struct {
	records *fakeRecordRepo
	details *fakeDetailRepo
	jobMaps *fakeJobMapRepo
	hosts   *fakeHostRepo

	jobMock *jobplatform.MockClient
	gseMock *gse.MockClient
	store   *storage.MockStore

	record *model.SubscriptionInstanceRecord
	host   *model.Host
	ap     *model.AccessPoint
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()

	host := &model.Host{
		BkHostID:  1001,
		BkBizID:   2,
		BkCloudID: constants.DefaultCloudID,
		InnerIP:   "192.168.1.10",
		OsType:    constants.OsTypeLinux,
		CpuArch:   constants.CpuArchX86_64,
		NodeType:  constants.NodeTypeAgent,
	}
	record := &model.SubscriptionInstanceRecord{
		ID:             1,
		TaskID:         7,
		SubscriptionID: 3,
		InstanceID:     constants.InstanceNodeID(constants.ObjectTypeHost, constants.NodeTypeInstance, host.BkHostID),
		Status:         constants.StatusPending,
		IsLatest:       true,
	}
	require.NoError(t, record.SetStepList([]model.InstanceStep{
		{ID: "s1", Type: constants.StepTypeAgent, Action: constants.ActionPushConfig},
	}))

	ap := &model.AccessPoint{
		Name:      "default",
		IsDefault: true,
		TaskServer: datatypes.JSON(
			`[{"inner_ip": "10.0.0.10", "outer_ip": "117.0.0.10"}]`),
		DataServer: datatypes.JSON(
			`[{"inner_ip": "10.0.0.11", "outer_ip": ""}]`),
		BtFileServer: datatypes.JSON(
			`[{"inner_ip": "10.0.0.12", "outer_ip": ""}]`),
		AgentConfigMap: datatypes.JSON(
			`{"linux": {"setup_path": "/usr/local/gse", "data_path": "/var/lib/gse", "log_path": "/var/log/gse"}}`),
	}

	store := storage.NewMockStore()
	store.SetObject("scripts/"+constants.SetupScriptAgentLinux, []byte("#!/bin/bash\necho setup\n"))

	fixture := &runnerFixture{
		records: newFakeRecordRepo(record),
		details: newFakeDetailRepo(),
		jobMaps: newFakeJobMapRepo(),
		hosts:   newFakeHostRepo(host),
		jobMock: jobplatform.NewMockClient(),
		gseMock: gse.NewMockClient(),
		store:   store,
		record:  record,
		host:    host,
		ap:      ap,
	}
	fixture.gseMock.SetAgentAlive(gse.AgentHost{BkCloudID: host.BkCloudID, IP: host.InnerIP}, true, "2.1.2")
	return fixture
}

func (f *runnerFixture) newRunner(jobClient jobplatform.Client, opts Options) *Runner {
	executor := NewExecutor(ExecutorDeps{
		JobClient:  jobClient,
		GseClient:  f.gseMock,
		CmdbClient: cmdb.NewMockClient(),
		Store:      f.store,
		Renderer:   render.NewRenderer(),
		Hosts:      f.hosts,
		JobMaps:    f.jobMaps,
		Records:    f.records,
		RunEnv:     constants.RunEnvCE,
		Rand:       rand.New(rand.NewSource(1)),
	})
	return NewRunner(executor, f.records, f.details, opts)
}

func (f *runnerFixture) newJob(t *testing.T) *InstanceJob {
	t.Helper()
	return &InstanceJob{
		Record: f.record,
		Host:   f.host,
		Ap:     f.ap,
		Steps: []StepRun{
			f.newStepRun(t, "s1", constants.ActionPushConfig),
		},
	}
}

func (f *runnerFixture) newStepRun(t *testing.T, stepID, action string) StepRun {
	t.Helper()
	activities, err := Compile(stepID, constants.StepTypeAgent, action, constants.RunEnvCE)
	require.NoError(t, err)
	return StepRun{
		Step:       model.InstanceStep{ID: stepID, Type: constants.StepTypeAgent, Action: action},
		Config:     map[string]interface{}{"account": "root"},
		Activities: activities,
	}
}

func (f *runnerFixture) waitTerminal(t *testing.T, recordID int64, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status := f.records.statusOf(recordID)
		if constants.IsTerminalStatus(status) {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("instance %d not terminal after %v, status=%s", recordID, timeout, f.records.statusOf(recordID))
	return ""
}

func TestRunnerHappyPath(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.jobMock.SetRunningPolls(0)
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newJob(t)))

	status := fixture.waitTerminal(t, fixture.record.ID, 30*time.Second)
	assert.Equal(t, constants.StatusSuccess, status)

	// 每个原子留有 SUCCESS 详情行
	assert.Equal(t, 1, fixture.details.byNodeStatus("s1:00:resolve_upstream", constants.StatusSuccess))
	assert.Equal(t, 1, fixture.details.byNodeStatus("s1:04:wait_job_result", constants.StatusSuccess))
	assert.Equal(t, 1, fixture.details.byNodeStatus("s1:06:record_success", constants.StatusSuccess))

	// Agent 存活校验回写版本
	assert.Equal(t, "2.1.2", fixture.hosts.versionOf(fixture.host.BkHostID))

	// 两次作业提交（分发 + 执行脚本）都已登记并闭环
	assert.Equal(t, 1, fixture.jobMock.PushCalled())
	assert.Equal(t, 1, fixture.jobMock.RunCalled())
	assert.Equal(t, constants.StatusSuccess, fixture.jobMaps.statusByJobInstance(10002))
}

func TestRunnerRetriesRateLimitedPush(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.jobMock.SetRunningPolls(0)
	flaky := &flakyJobClient{
		MockClient: fixture.jobMock,
		failures:   2,
		failErr:    pkgErrors.NewKind(pkgErrors.KindRateLimited, "作业平台限流"),
	}
	runner := fixture.newRunner(flaky, Options{GlobalConcurrency: 8, ChannelConcurrency: 8, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newJob(t)))

	status := fixture.waitTerminal(t, fixture.record.ID, 30*time.Second)
	assert.Equal(t, constants.StatusSuccess, status, "third attempt succeeds before retries run out")

	// 两次失败各留一行 RETRY_WAIT，最终一行 SUCCESS
	pushNode := "s1:02:push_files_via_job"
	assert.Equal(t, 2, fixture.details.byNodeStatus(pushNode, constants.StatusRetryWait))
	assert.Equal(t, 1, fixture.details.byNodeStatus(pushNode, constants.StatusSuccess))
	assert.Contains(t, fixture.details.lastLogOf(pushNode, constants.StatusRetryWait), "作业平台限流")

	// 限流信号触发闸门降速
	assert.Equal(t, 2, runner.globalGate.Effective(), "8 halved twice")
	assert.Equal(t, 1, fixture.jobMock.PushCalled(), "only the final attempt reaches the platform")
}

func TestRunnerNonRetryableFailureFailsInstance(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.jobMock.SetPushError(pkgErrors.NewKind(pkgErrors.KindValidation, "账户不合法"))
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newJob(t)))

	status := fixture.waitTerminal(t, fixture.record.ID, 10*time.Second)
	assert.Equal(t, constants.StatusFailed, status)

	pushNode := "s1:02:push_files_via_job"
	assert.Equal(t, 0, fixture.details.byNodeStatus(pushNode, constants.StatusRetryWait), "validation errors are not retried")
	assert.Equal(t, 1, fixture.details.byNodeStatus(pushNode, constants.StatusFailed))

	// 终态落在 RECORD_FAILURE 节点
	failureNode := "s1:07:record_failure"
	assert.Equal(t, 1, fixture.details.byNodeStatus(failureNode, constants.StatusFailed))
	assert.Contains(t, fixture.details.lastLogOf(failureNode, constants.StatusFailed), pushNode)
}

func TestRunnerRevokeMidFlight(t *testing.T) {
	fixture := newRunnerFixture(t)
	// WAIT_JOB_RESULT 先轮到两次 RUNNING，留出撤销窗口
	fixture.jobMock.SetRunningPolls(2)
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newJob(t)))

	// 等实例进入作业轮询后再撤销
	deadline := time.Now().Add(10 * time.Second)
	for fixture.jobMock.StatusCalled(10002) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotZero(t, fixture.jobMock.StatusCalled(10002), "job poll never started")
	runner.Revoke(fixture.record.TaskID)

	status := fixture.waitTerminal(t, fixture.record.ID, 30*time.Second)
	assert.Equal(t, constants.StatusRevoked, status)

	// 正在执行的原子允许跑完
	assert.Equal(t, 1, fixture.details.byNodeStatus("s1:04:wait_job_result", constants.StatusSuccess))

	// 尚未执行的原子跳过并注明撤销
	verifyNode := "s1:05:verify_agent_alive"
	assert.Equal(t, 1, fixture.details.byNodeStatus(verifyNode, constants.StatusSkipped))
	assert.Equal(t, constants.StatusRevoked, fixture.details.lastLogOf(verifyNode, constants.StatusSkipped))
	assert.Equal(t, 0, fixture.details.byNodeStatus("s1:06:record_success", constants.StatusSkipped))

	// RECORD_SUCCESS 未执行，成功状态不会被写入
	assert.Equal(t, 0, fixture.details.byNodeStatus("s1:06:record_success", constants.StatusSuccess))
	assert.Equal(t, 1, fixture.details.byNodeStatus("s1:07:record_failure", constants.StatusFailed))

	// 撤销实例计入终态分布，任务归约为部分失败
	counts, err := fixture.records.CountByTaskStatus(fixture.record.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusPartFailed, AggregateTaskStatus(map[string]int64{
		constants.StatusSuccess: 1,
		constants.StatusRevoked: counts[constants.StatusRevoked],
	}))
}

// newMultiStepJob 两个步骤装进同一个执行单元
func (f *runnerFixture) newMultiStepJob(t *testing.T) *InstanceJob {
	t.Helper()
	require.NoError(t, f.record.SetStepList([]model.InstanceStep{
		{ID: "s1", Type: constants.StepTypeAgent, Action: constants.ActionPushConfig},
		{ID: "s2", Type: constants.StepTypeAgent, Action: constants.ActionPushConfig},
	}))
	return &InstanceJob{
		Record: f.record,
		Host:   f.host,
		Ap:     f.ap,
		Steps: []StepRun{
			f.newStepRun(t, "s1", constants.ActionPushConfig),
			f.newStepRun(t, "s2", constants.ActionPushConfig),
		},
	}
}

func TestRunnerMultiStepRunsSequentially(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.jobMock.SetRunningPolls(0)
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newMultiStepJob(t)))

	status := fixture.waitTerminal(t, fixture.record.ID, 30*time.Second)
	assert.Equal(t, constants.StatusSuccess, status)

	// 两个步骤都执行完整的分发与脚本
	assert.Equal(t, 2, fixture.jobMock.PushCalled())
	assert.Equal(t, 2, fixture.jobMock.RunCalled())

	// 中间步骤的成功收尾只留详情行，终态由最后一步写入
	assert.Equal(t, 1, fixture.details.byNodeStatus("s1:06:record_success", constants.StatusSuccess))
	assert.Equal(t, 1, fixture.details.byNodeStatus("s2:06:record_success", constants.StatusSuccess))
}

func TestRunnerMultiStepStopsAfterTerminalFailure(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.jobMock.SetPushError(pkgErrors.NewKind(pkgErrors.KindValidation, "账户不合法"))
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newMultiStepJob(t)))

	status := fixture.waitTerminal(t, fixture.record.ID, 10*time.Second)
	assert.Equal(t, constants.StatusFailed, status)

	// 第一步终态失败后，第二步不再执行，实例不会被翻成成功
	assert.Equal(t, 1, fixture.jobMock.PushCalled())
	assert.Zero(t, fixture.details.byNodePrefix("s2:"))
	assert.Equal(t, constants.StatusFailed, fixture.records.statusOf(fixture.record.ID))
	assert.Equal(t, 1, fixture.details.byNodeStatus("s1:07:record_failure", constants.StatusFailed))
}

func TestRunnerDoesNotResurrectFailedRecord(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.jobMock.SetRunningPolls(0)
	// 调和器已将实例标记为失败，随后恢复执行的运行器不能改写终态
	require.NoError(t, fixture.records.UpdateStatus(fixture.record.ID, constants.StatusRunning))
	require.NoError(t, fixture.records.UpdateStatus(fixture.record.ID, constants.StatusFailed))
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newJob(t)))

	// 等流水线跑到成功收尾
	deadline := time.Now().Add(30 * time.Second)
	for fixture.details.byNodeStatus("s1:06:record_success", constants.StatusSuccess) == 0 &&
		time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, 1, fixture.details.byNodeStatus("s1:06:record_success", constants.StatusSuccess))
	assert.Equal(t, constants.StatusFailed, fixture.records.statusOf(fixture.record.ID))
}

func TestRunnerRevokeInstanceBeforeStart(t *testing.T) {
	fixture := newRunnerFixture(t)
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})
	runner.RevokeInstance(fixture.record.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newJob(t)))

	status := fixture.waitTerminal(t, fixture.record.ID, 10*time.Second)
	assert.Equal(t, constants.StatusRevoked, status)
	assert.Equal(t, 0, fixture.jobMock.PushCalled(), "no activity runs for a pre-revoked instance")
}

func TestRunnerReclaimsRevokeMarksAfterTerminal(t *testing.T) {
	fixture := newRunnerFixture(t)
	runner := fixture.newRunner(fixture.jobMock, Options{GlobalConcurrency: 2, ChannelConcurrency: 2, QueueSize: 8})
	runner.Revoke(fixture.record.TaskID)
	runner.RevokeInstance(fixture.record.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, runner.Submit(ctx, fixture.newJob(t)))

	status := fixture.waitTerminal(t, fixture.record.ID, 10*time.Second)
	assert.Equal(t, constants.StatusRevoked, status)

	// 终态写入先于回收，轮询等待 worker 释放在途计数
	marksClean := func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.pendingByTask) == 0 &&
			len(runner.revokedRecords) == 0 &&
			len(runner.revokedTasks) == 0
	}
	deadline := time.Now().Add(5 * time.Second)
	for !marksClean() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, marksClean(), "revoke marks and pending counters should be reclaimed")
}
