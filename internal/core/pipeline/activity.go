package pipeline

import (
	"fmt"
	"time"

	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// 原子类型
const (
	KindResolveUpstream       = "RESOLVE_UPSTREAM"
	KindRenderAgentConfig     = "RENDER_AGENT_CONFIG"
	KindRenderProxyConfig     = "RENDER_PROXY_CONFIG"
	KindChooseInstallerScript = "CHOOSE_INSTALLER_SCRIPT"
	KindPushFilesViaJob       = "PUSH_FILES_VIA_JOB"
	KindRunScriptViaJob       = "RUN_SCRIPT_VIA_JOB"
	KindWaitJobResult         = "WAIT_JOB_RESULT"
	KindVerifyAgentAlive      = "VERIFY_AGENT_ALIVE"
	KindRegisterHostToCmdb    = "REGISTER_HOST_TO_CMDB"
	KindDelegatePluginToGse   = "DELEGATE_PLUGIN_TO_GSE"
	KindUndelegatePlugin      = "UNDELEGATE_PLUGIN"
	KindUpdateProcessStatus   = "UPDATE_PROCESS_STATUS"
	KindFetchEsbPublicKey     = "FETCH_ESB_PUBLIC_KEY"
	KindRecordSuccess         = "RECORD_SUCCESS"
	KindRecordFailure         = "RECORD_FAILURE"
)

// 失败处置
const (
	OnFailureFailInstance = "FAIL_INSTANCE"
	OnFailureContinue     = "CONTINUE"
	OnFailureRollbackStep = "ROLLBACK_STEP"
)

// RetryPolicy 原子重试策略
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// RetryOn 允许重试的错误类别，空表示不重试
	RetryOn []pkgErrors.Kind
}

// ShouldRetry 判断错误类别是否在重试范围内
func (p RetryPolicy) ShouldRetry(kind pkgErrors.Kind) bool {
	for _, k := range p.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// Activity 流水线原子，数据而非行为；执行逻辑集中在 runner 的分发处
type Activity struct {
	ID        string
	Kind      string
	Inputs    map[string]interface{}
	Timeout   time.Duration
	Retry     RetryPolicy
	OnFailure string
}

// 轮询上限
const (
	pollCeilingInstall    = 30 * time.Minute
	pollCeilingPushConfig = 5 * time.Minute
	pollBackoffCap        = 30 * time.Second
)

var externalRetryKinds = []pkgErrors.Kind{
	pkgErrors.KindTransientNetwork,
	pkgErrors.KindRateLimited,
	pkgErrors.KindServiceUnavailable,
	pkgErrors.KindActivityTimeout,
}

// Compile 将 (步骤, 动作) 编译为有序原子列表
// 原子 ID 在实例内稳定，重试复用同一 ID；RESOLVE_UPSTREAM 先于任何渲染
func Compile(stepID, stepType, action, runEnv string) ([]Activity, error) {
	var kinds []string
	waitCeiling := pollCeilingInstall

	switch action {
	case constants.ActionSkip:
		kinds = []string{KindRecordSuccess}

	case constants.ActionInstall, constants.ActionReinstall,
		constants.ActionUpgrade, constants.ActionReplace:
		renderKind := KindRenderAgentConfig
		if stepType == constants.StepTypeProxy {
			renderKind = KindRenderProxyConfig
		}
		kinds = []string{
			KindResolveUpstream,
			renderKind,
			KindChooseInstallerScript,
			KindPushFilesViaJob,
			KindRunScriptViaJob,
			KindWaitJobResult,
			KindVerifyAgentAlive,
		}
		if stepType == constants.StepTypePlugin {
			kinds = []string{
				KindResolveUpstream,
				KindPushFilesViaJob,
				KindRunScriptViaJob,
				KindWaitJobResult,
				KindDelegatePluginToGse,
				KindUpdateProcessStatus,
			}
		} else if action != constants.ActionUpgrade {
			kinds = append(kinds, KindRegisterHostToCmdb)
		}
		kinds = append(kinds, KindRecordSuccess)

	case constants.ActionPushConfig:
		waitCeiling = pollCeilingPushConfig
		kinds = []string{
			KindResolveUpstream,
			KindRenderAgentConfig,
			KindPushFilesViaJob,
			KindRunScriptViaJob,
			KindWaitJobResult,
			KindVerifyAgentAlive,
			KindRecordSuccess,
		}
		if stepType == constants.StepTypeProxy {
			kinds[1] = KindRenderProxyConfig
		}

	case constants.ActionUninstall:
		kinds = []string{
			KindChooseInstallerScript,
			KindRunScriptViaJob,
			KindWaitJobResult,
			KindUpdateProcessStatus,
			KindRecordSuccess,
		}
		if stepType == constants.StepTypePlugin {
			kinds = []string{
				KindRunScriptViaJob,
				KindWaitJobResult,
				KindUndelegatePlugin,
				KindUpdateProcessStatus,
				KindRecordSuccess,
			}
		}

	case constants.ActionRestart, constants.ActionReload:
		kinds = []string{
			KindRunScriptViaJob,
			KindWaitJobResult,
			KindVerifyAgentAlive,
			KindRecordSuccess,
		}

	case constants.ActionDelegate:
		kinds = []string{
			KindDelegatePluginToGse,
			KindUpdateProcessStatus,
			KindRecordSuccess,
		}

	case constants.ActionUnDelegate:
		kinds = []string{
			KindUndelegatePlugin,
			KindUpdateProcessStatus,
			KindRecordSuccess,
		}

	default:
		return nil, pkgErrors.NewKind(pkgErrors.KindValidation, "无法编译的动作 "+action)
	}

	// 企业版在成功记录前追加 ESB 公钥拉取
	if runEnv == constants.RunEnvEE && action != constants.ActionSkip {
		last := kinds[len(kinds)-1]
		kinds = append(kinds[:len(kinds)-1], KindFetchEsbPublicKey, last)
	}

	activities := make([]Activity, 0, len(kinds))
	for i, kind := range kinds {
		activities = append(activities, Activity{
			ID:        activityID(stepID, i, kind),
			Kind:      kind,
			Inputs:    map[string]interface{}{"action": action},
			Timeout:   activityTimeout(kind, waitCeiling),
			Retry:     activityRetry(kind),
			OnFailure: activityOnFailure(kind),
		})
	}
	return activities, nil
}

func activityID(stepID string, index int, kind string) string {
	return fmt.Sprintf("%s:%02d:%s", stepID, index, constants.Lower(kind))
}

func activityTimeout(kind string, waitCeiling time.Duration) time.Duration {
	switch kind {
	case KindWaitJobResult:
		return waitCeiling
	case KindVerifyAgentAlive:
		return 5 * time.Minute
	case KindPushFilesViaJob, KindRunScriptViaJob:
		return 2 * time.Minute
	case KindResolveUpstream, KindRenderAgentConfig, KindRenderProxyConfig,
		KindChooseInstallerScript, KindRecordSuccess, KindRecordFailure:
		return 30 * time.Second
	default:
		return time.Minute
	}
}

func activityRetry(kind string) RetryPolicy {
	switch kind {
	case KindPushFilesViaJob, KindRunScriptViaJob, KindRegisterHostToCmdb,
		KindDelegatePluginToGse, KindUndelegatePlugin, KindFetchEsbPublicKey:
		return RetryPolicy{MaxAttempts: 3, Backoff: time.Second, RetryOn: externalRetryKinds}
	case KindWaitJobResult, KindVerifyAgentAlive:
		// 轮询原子自带退避，超时后再给一次完整轮询机会
		return RetryPolicy{MaxAttempts: 2, Backoff: time.Second, RetryOn: []pkgErrors.Kind{pkgErrors.KindActivityTimeout}}
	default:
		return RetryPolicy{MaxAttempts: 1}
	}
}

func activityOnFailure(kind string) string {
	switch kind {
	case KindRegisterHostToCmdb, KindUpdateProcessStatus, KindFetchEsbPublicKey:
		return OnFailureContinue
	default:
		return OnFailureFailInstance
	}
}
