package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/gse"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/jobplatform"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

func TestChooseSetupScript(t *testing.T) {
	cases := []struct {
		name string
		host *model.Host
		want string
	}{
		{"proxy", &model.Host{NodeType: constants.NodeTypeProxy, OsType: constants.OsTypeLinux}, constants.SetupScriptProxy},
		{"pagent", &model.Host{NodeType: constants.NodeTypePagent, OsType: constants.OsTypeLinux}, constants.SetupScriptPagent},
		{"windows agent", &model.Host{NodeType: constants.NodeTypeAgent, OsType: constants.OsTypeWindows}, constants.SetupScriptAgentWindows},
		{"aix agent", &model.Host{NodeType: constants.NodeTypeAgent, OsType: constants.OsTypeAix}, constants.SetupScriptAgentAix},
		{"linux agent", &model.Host{NodeType: constants.NodeTypeAgent, OsType: constants.OsTypeLinux}, constants.SetupScriptAgentLinux},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, chooseSetupScript(tc.host))
		})
	}
}

func TestIdempotencyKeyStableAcrossCalls(t *testing.T) {
	job := &InstanceJob{
		Record: &model.SubscriptionInstanceRecord{InstanceID: "host|instance|host|1001"},
	}
	act := Activity{ID: "s1:03:push_files_via_job"}

	assert.Equal(t, "host|instance|host|1001|s1|s1:03:push_files_via_job|1", idempotencyKey(job, "s1", act, 1))
	assert.Equal(t, idempotencyKey(job, "s1", act, 2), idempotencyKey(job, "s1", act, 2))
	assert.NotEqual(t, idempotencyKey(job, "s1", act, 1), idempotencyKey(job, "s1", act, 2))
}

func TestWaitJobResultFailureCarriesJobLog(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.jobMock.SetRunningPolls(0).SetFinalStatus(jobplatform.JobStatusFailed)
	executor := NewExecutor(ExecutorDeps{
		JobClient: fixture.jobMock,
		JobMaps:   fixture.jobMaps,
		Records:   fixture.records,
		Hosts:     fixture.hosts,
	})
	job := fixture.newJob(t)

	jobID, err := fixture.jobMock.RunScript(context.Background(), nil, "echo", "", "root")
	require.NoError(t, err)
	fixture.jobMock.SetJobLog(jobID, "setup_agent.sh: line 5: permission denied")

	state := &execState{jobInstanceID: jobID}
	err = executor.waitJobResult(context.Background(), job, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	// 作业脚本失败不是不变量破坏
	assert.False(t, isInvariantViolation(err))
}

func TestWaitJobResultWithoutSubmittedJob(t *testing.T) {
	fixture := newRunnerFixture(t)
	executor := NewExecutor(ExecutorDeps{JobClient: fixture.jobMock})

	err := executor.waitJobResult(context.Background(), fixture.newJob(t), &execState{})
	require.Error(t, err)
	assert.True(t, isInvariantViolation(err))
}

func TestRenderBeforeResolveIsInvariantViolation(t *testing.T) {
	fixture := newRunnerFixture(t)
	executor := NewExecutor(ExecutorDeps{})

	err := executor.renderConfig(fixture.newJob(t), &execState{}, constants.GseAgentRunModeAgent)
	require.Error(t, err)
	assert.True(t, isInvariantViolation(err))
}

func TestOperatePluginRegistersOnceForUndelegate(t *testing.T) {
	fixture := newRunnerFixture(t)
	fixture.gseMock.SetRunningPolls(0)
	executor := NewExecutor(ExecutorDeps{GseClient: fixture.gseMock})

	job := fixture.newJob(t)
	act := Activity{ID: "s1:00:undelegate_plugin", Kind: KindUndelegatePlugin}

	state := &execState{step: StepRun{
		Step:   model.InstanceStep{ID: "s1"},
		Config: map[string]interface{}{"plugin_name": "bkmonitorbeat", "account": "root"},
	}}
	require.NoError(t, executor.operatePlugin(context.Background(), job, act, 1, state, gse.ProcOpUndelegate))
	assert.NotEmpty(t, state.procID, "undelegate resolves proc_id via idempotent register")
	assert.Equal(t, 1, fixture.gseMock.RegisteredCount())
	assert.Equal(t, 1, fixture.gseMock.OperateCalled())

	// proc_id 已知时不再注册
	require.NoError(t, executor.operatePlugin(context.Background(), job, act, 2, state, gse.ProcOpUndelegate))
	assert.Equal(t, 1, fixture.gseMock.RegisteredCount())
}

func TestOperatePluginRequiresPluginName(t *testing.T) {
	fixture := newRunnerFixture(t)
	executor := NewExecutor(ExecutorDeps{GseClient: fixture.gseMock})

	err := executor.operatePlugin(context.Background(), fixture.newJob(t),
		Activity{ID: "s1:00:delegate_plugin_to_gse"}, 1, &execState{}, gse.ProcOpDelegate)
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindValidation, pkgErrors.KindOf(err))
}

func TestUpdateProcessStatusOnUninstallClearsVersion(t *testing.T) {
	fixture := newRunnerFixture(t)
	require.NoError(t, fixture.hosts.UpdateVersion(fixture.host.BkHostID, "2.1.2"))
	executor := NewExecutor(ExecutorDeps{Hosts: fixture.hosts, Records: fixture.records})

	job := fixture.newJob(t)
	act := Activity{
		Kind:   KindUpdateProcessStatus,
		Inputs: map[string]interface{}{"action": constants.ActionUninstall},
	}
	require.NoError(t, executor.updateProcessStatus(job, act, &execState{step: job.Steps[0]}))
	assert.Empty(t, fixture.hosts.versionOf(fixture.host.BkHostID))
}

func TestUpdateProcessStatusStampsStep(t *testing.T) {
	fixture := newRunnerFixture(t)
	executor := NewExecutor(ExecutorDeps{Hosts: fixture.hosts, Records: fixture.records})

	job := fixture.newJob(t)
	act := Activity{
		Kind:   KindUpdateProcessStatus,
		Inputs: map[string]interface{}{"action": constants.ActionInstall},
	}
	require.NoError(t, executor.updateProcessStatus(job, act, &execState{step: job.Steps[0]}))

	stored, err := fixture.records.FindByID(fixture.record.ID)
	require.NoError(t, err)
	step, err := stored.StepData("s1")
	require.NoError(t, err)
	assert.NotEmpty(t, step.ExtraInfo["process_status_updated_at"])
}

func TestPollWithBackoffTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := pollWithBackoff(ctx, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindActivityTimeout, pkgErrors.KindOf(err))
}

func TestPollWithBackoffStopsOnError(t *testing.T) {
	calls := 0
	err := pollWithBackoff(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return false, pkgErrors.NewKind(pkgErrors.KindValidation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecStateNoteRateLimited(t *testing.T) {
	fired := 0
	state := &execState{onRateLimited: func() { fired++ }}

	state.noteRateLimited(nil)
	state.noteRateLimited(pkgErrors.NewKind(pkgErrors.KindValidation, "not rate limit"))
	assert.Zero(t, fired)

	state.noteRateLimited(pkgErrors.NewKind(pkgErrors.KindRateLimited, "slow down"))
	assert.Equal(t, 1, fired)
}

func TestChannelKey(t *testing.T) {
	channelID := int64(5)
	job := &InstanceJob{Host: &model.Host{BkCloudID: 3, InstallChannelID: &channelID}}
	assert.Equal(t, "3:5", job.ChannelKey())

	job = &InstanceJob{Host: &model.Host{BkCloudID: 0}}
	assert.Equal(t, "0:0", job.ChannelKey())
}
