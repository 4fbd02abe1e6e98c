package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
)

func TestMergeInstallDefaultsBuiltinOnly(t *testing.T) {
	merged := mergeInstallDefaults(model.InstallDefaultValues{}, "LINUX", nil)
	assert.Equal(t, "root", merged["account"])
	assert.Equal(t, 22, merged["port"])
	assert.Equal(t, "gse_agent.conf", merged["config_file_name"])
}

func TestMergeInstallDefaultsCommonOverridesBuiltin(t *testing.T) {
	defaults := model.InstallDefaultValues{
		"COMMON": {"account": "gse_ops", "data_path": "/var/lib/gse"},
	}
	merged := mergeInstallDefaults(defaults, "LINUX", nil)
	assert.Equal(t, "gse_ops", merged["account"])
	assert.Equal(t, "/var/lib/gse", merged["data_path"])
	// 内置项未被覆盖时保留
	assert.Equal(t, 22, merged["port"])
}

func TestMergeInstallDefaultsOsSpecificOverridesCommon(t *testing.T) {
	defaults := model.InstallDefaultValues{
		"COMMON":  {"account": "gse_ops", "port": 22},
		"windows": {"account": "Administrator", "port": 445},
	}
	merged := mergeInstallDefaults(defaults, "WINDOWS", nil)
	assert.Equal(t, "Administrator", merged["account"])
	assert.Equal(t, 445, merged["port"])

	// 操作系统键按小写匹配
	merged = mergeInstallDefaults(defaults, "LINUX", nil)
	assert.Equal(t, "gse_ops", merged["account"])
	assert.Equal(t, 22, merged["port"])
}

func TestMergeInstallDefaultsStepConfigWins(t *testing.T) {
	defaults := model.InstallDefaultValues{
		"COMMON": {"account": "gse_ops"},
		"linux":  {"account": "gse_linux", "port": 2222},
	}
	merged := mergeInstallDefaults(defaults, "LINUX", map[string]interface{}{
		"account": "custom",
	})
	assert.Equal(t, "custom", merged["account"])
	assert.Equal(t, 2222, merged["port"])
	assert.Equal(t, "gse_agent.conf", merged["config_file_name"])
}
