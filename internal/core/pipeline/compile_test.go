package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

func kindsOf(activities []Activity) []string {
	kinds := make([]string, 0, len(activities))
	for _, act := range activities {
		kinds = append(kinds, act.Kind)
	}
	return kinds
}

func TestCompileInstallAgent(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypeAgent, constants.ActionInstall, constants.RunEnvCE)
	require.NoError(t, err)

	assert.Equal(t, []string{
		KindResolveUpstream,
		KindRenderAgentConfig,
		KindChooseInstallerScript,
		KindPushFilesViaJob,
		KindRunScriptViaJob,
		KindWaitJobResult,
		KindVerifyAgentAlive,
		KindRegisterHostToCmdb,
		KindRecordSuccess,
	}, kindsOf(activities))

	// 原子 ID 稳定且可读，形如 s1:00:resolve_upstream
	assert.Equal(t, "s1:00:resolve_upstream", activities[0].ID)
	assert.Equal(t, "s1:05:wait_job_result", activities[5].ID)
}

func TestCompileProxyUsesProxyRender(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypeProxy, constants.ActionInstall, constants.RunEnvCE)
	require.NoError(t, err)
	assert.Equal(t, KindRenderProxyConfig, activities[1].Kind)
}

func TestCompileUpgradeSkipsCmdbRegister(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypeAgent, constants.ActionUpgrade, constants.RunEnvCE)
	require.NoError(t, err)
	assert.NotContains(t, kindsOf(activities), KindRegisterHostToCmdb)
}

func TestCompileSkipIsSingleRecordSuccess(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypeAgent, constants.ActionSkip, constants.RunEnvEE)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, KindRecordSuccess, activities[0].Kind)
}

func TestCompileEEAppendsPublicKeyFetch(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypeAgent, constants.ActionPushConfig, constants.RunEnvEE)
	require.NoError(t, err)

	kinds := kindsOf(activities)
	require.GreaterOrEqual(t, len(kinds), 2)
	assert.Equal(t, KindFetchEsbPublicKey, kinds[len(kinds)-2])
	assert.Equal(t, KindRecordSuccess, kinds[len(kinds)-1])

	ce, err := Compile("s1", constants.StepTypeAgent, constants.ActionPushConfig, constants.RunEnvCE)
	require.NoError(t, err)
	assert.NotContains(t, kindsOf(ce), KindFetchEsbPublicKey)
}

func TestCompileWaitCeilingByAction(t *testing.T) {
	findWait := func(activities []Activity) Activity {
		for _, act := range activities {
			if act.Kind == KindWaitJobResult {
				return act
			}
		}
		t.Fatal("no WAIT_JOB_RESULT compiled")
		return Activity{}
	}

	install, err := Compile("s1", constants.StepTypeAgent, constants.ActionInstall, constants.RunEnvCE)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, findWait(install).Timeout)

	pushConfig, err := Compile("s1", constants.StepTypeAgent, constants.ActionPushConfig, constants.RunEnvCE)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, findWait(pushConfig).Timeout)
}

func TestCompilePluginInstall(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypePlugin, constants.ActionInstall, constants.RunEnvCE)
	require.NoError(t, err)
	assert.Equal(t, []string{
		KindResolveUpstream,
		KindPushFilesViaJob,
		KindRunScriptViaJob,
		KindWaitJobResult,
		KindDelegatePluginToGse,
		KindUpdateProcessStatus,
		KindRecordSuccess,
	}, kindsOf(activities))
}

func TestCompilePluginUninstall(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypePlugin, constants.ActionUninstall, constants.RunEnvCE)
	require.NoError(t, err)
	assert.Equal(t, []string{
		KindRunScriptViaJob,
		KindWaitJobResult,
		KindUndelegatePlugin,
		KindUpdateProcessStatus,
		KindRecordSuccess,
	}, kindsOf(activities))
}

func TestCompileDelegateActions(t *testing.T) {
	delegate, err := Compile("s1", constants.StepTypePlugin, constants.ActionDelegate, constants.RunEnvCE)
	require.NoError(t, err)
	assert.Equal(t, KindDelegatePluginToGse, delegate[0].Kind)

	undelegate, err := Compile("s1", constants.StepTypePlugin, constants.ActionUnDelegate, constants.RunEnvCE)
	require.NoError(t, err)
	assert.Equal(t, KindUndelegatePlugin, undelegate[0].Kind)
}

func TestCompileUnknownAction(t *testing.T) {
	_, err := Compile("s1", constants.StepTypeAgent, "DESTROY", constants.RunEnvCE)
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindValidation, pkgErrors.KindOf(err))
}

func TestActivityRetryPolicies(t *testing.T) {
	activities, err := Compile("s1", constants.StepTypeAgent, constants.ActionInstall, constants.RunEnvCE)
	require.NoError(t, err)

	byKind := map[string]Activity{}
	for _, act := range activities {
		byKind[act.Kind] = act
	}

	// 外部副作用原子按类别重试
	push := byKind[KindPushFilesViaJob]
	assert.Equal(t, 3, push.Retry.MaxAttempts)
	assert.True(t, push.Retry.ShouldRetry(pkgErrors.KindRateLimited))
	assert.True(t, push.Retry.ShouldRetry(pkgErrors.KindTransientNetwork))
	assert.False(t, push.Retry.ShouldRetry(pkgErrors.KindValidation))

	// 轮询原子只在超时后重来
	wait := byKind[KindWaitJobResult]
	assert.Equal(t, 2, wait.Retry.MaxAttempts)
	assert.True(t, wait.Retry.ShouldRetry(pkgErrors.KindActivityTimeout))
	assert.False(t, wait.Retry.ShouldRetry(pkgErrors.KindRateLimited))

	// 纯计算原子不重试
	assert.Equal(t, 1, byKind[KindResolveUpstream].Retry.MaxAttempts)

	// 登记类原子失败不拖垮实例
	assert.Equal(t, OnFailureContinue, byKind[KindRegisterHostToCmdb].OnFailure)
	assert.Equal(t, OnFailureFailInstance, byKind[KindPushFilesViaJob].OnFailure)
}
