package service

import (
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
)

// builtinInstallDefaults 内置安装默认值，合并序最低
var builtinInstallDefaults = map[string]interface{}{
	"account":          "root",
	"port":             22,
	"config_file_name": "gse_agent.conf",
}

// installDefaults 读取全局动态配置中的安装默认值
func (s *subscriptionService) installDefaults() (model.InstallDefaultValues, error) {
	values := model.InstallDefaultValues{}
	if _, err := s.settings.GetJSON(constants.KeyInstallDefaultValues, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// mergeInstallDefaults 合并生效配置，优先级：步骤配置 > 操作系统默认 > COMMON > 内置
func mergeInstallDefaults(defaults model.InstallDefaultValues, osType string,
	stepConfig map[string]interface{}) map[string]interface{} {

	merged := map[string]interface{}{}
	for key, value := range builtinInstallDefaults {
		merged[key] = value
	}
	for key, value := range defaults["COMMON"] {
		merged[key] = value
	}
	for key, value := range defaults[constants.Lower(osType)] {
		merged[key] = value
	}
	for key, value := range stepConfig {
		merged[key] = value
	}
	return merged
}
