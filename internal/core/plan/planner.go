package plan

import (
	"strconv"
	"strings"

	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// HostState 主机上的当前状态，absent 表示尚未纳管
type HostState struct {
	Absent   bool
	NodeType string
	Version  string
	// ConfigDrift 配置与期望不一致
	ConfigDrift bool
}

// PluginState 插件当前状态
type PluginState struct {
	Installed bool
	Running   bool
	Version   string
	// AutoFlag 进程托管标记
	AutoFlag bool
}

// Desired 步骤声明的期望状态
type Desired struct {
	Version string
}

// AgentAction 按状态表决定 AGENT/PROXY 步骤的动作
// 版本一致但配置漂移时取 PUSH_CONFIG 而非 REINSTALL
func AgentAction(state HostState, desired Desired, jobType string) (string, error) {
	switch jobType {
	case constants.JobTypeInstallAgent, constants.JobTypeInstallProxy:
		if state.Absent {
			return constants.ActionInstall, nil
		}
		if jobType == constants.JobTypeInstallAgent && state.NodeType == constants.NodeTypeProxy {
			return "", pkgErrors.ErrWrongNodeType
		}
		if desired.Version != "" && state.Version == desired.Version {
			if state.ConfigDrift {
				return constants.ActionPushConfig, nil
			}
			return constants.ActionSkip, nil
		}
		return constants.ActionInstall, nil

	case constants.JobTypeReinstallAgent, constants.JobTypeReinstallProxy:
		return constants.ActionReinstall, nil

	case constants.JobTypeUpgradeAgent, constants.JobTypeUpgradeProxy:
		if state.Absent {
			return constants.ActionInstall, nil
		}
		if desired.Version == "" || CompareVersions(state.Version, desired.Version) < 0 {
			return constants.ActionUpgrade, nil
		}
		return constants.ActionSkip, nil

	case constants.JobTypeUninstallAgent, constants.JobTypeUninstallProxy:
		if state.Absent {
			return constants.ActionSkip, nil
		}
		return constants.ActionUninstall, nil

	case constants.JobTypeRestartAgent:
		return constants.ActionRestart, nil

	case constants.JobTypeReloadAgent:
		return constants.ActionReload, nil

	case constants.JobTypeReplaceProxy:
		return constants.ActionReplace, nil

	case constants.JobTypePushConfig:
		return constants.ActionPushConfig, nil
	}
	return "", pkgErrors.New(pkgErrors.CodeValidationError, "不支持的作业类型 "+jobType)
}

// PluginAction 按 (是否安装, 是否运行, 版本比较, 托管标记) 决定 PLUGIN 步骤动作
func PluginAction(state PluginState, desired Desired, jobType string) (string, error) {
	if jobType != constants.JobTypeMainInstall && jobType != constants.JobTypePushConfig {
		return "", pkgErrors.New(pkgErrors.CodeValidationError, "不支持的作业类型 "+jobType)
	}
	if jobType == constants.JobTypePushConfig {
		return constants.ActionPushConfig, nil
	}
	if !state.Installed {
		return constants.ActionInstall, nil
	}
	if desired.Version != "" && CompareVersions(state.Version, desired.Version) < 0 {
		return constants.ActionUpgrade, nil
	}
	if !state.Running {
		return constants.ActionRestart, nil
	}
	if !state.AutoFlag {
		return constants.ActionDelegate, nil
	}
	return constants.ActionSkip, nil
}

// CompareVersions 逐段数字比较版本号，返回 -1/0/1
func CompareVersions(a, b string) int {
	aParts := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bParts := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(aParts) || i < len(bParts); i++ {
		av, bv := 0, 0
		if i < len(aParts) {
			av, _ = strconv.Atoi(aParts[i])
		}
		if i < len(bParts) {
			bv, _ = strconv.Atoi(bParts[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
