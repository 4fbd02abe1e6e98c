package constants

import "fmt"

// ObjectType 订阅对象类型
const (
	ObjectTypeHost    = "HOST"
	ObjectTypeService = "SERVICE"
)

// SubNodeType 订阅节点类型
const (
	NodeTypeTopo            = "TOPO"             // 动态实例（拓扑）
	NodeTypeInstance        = "INSTANCE"         // 静态实例
	NodeTypeServiceTemplate = "SERVICE_TEMPLATE" // 服务模板
	NodeTypeSetTemplate     = "SET_TEMPLATE"     // 集群模板
)

// CategoryType 订阅类别
const (
	CategoryPolicy = "policy" // 策略，长期生效，多业务范围
	CategoryOnce   = "once"   // 一次性订阅，绑定单业务
	CategoryDebug  = "debug"
)

// StepType 步骤类型
const (
	StepTypeAgent  = "AGENT"
	StepTypeProxy  = "PROXY"
	StepTypePlugin = "PLUGIN"
)

// JobType 作业类型
const (
	JobTypeInstallAgent   = "INSTALL_AGENT"
	JobTypeReinstallAgent = "REINSTALL_AGENT"
	JobTypeUpgradeAgent   = "UPGRADE_AGENT"
	JobTypeUninstallAgent = "UNINSTALL_AGENT"
	JobTypeRestartAgent   = "RESTART_AGENT"
	JobTypeReloadAgent    = "RELOAD_AGENT"
	JobTypeInstallProxy   = "INSTALL_PROXY"
	JobTypeReinstallProxy = "REINSTALL_PROXY"
	JobTypeUpgradeProxy   = "UPGRADE_PROXY"
	JobTypeUninstallProxy = "UNINSTALL_PROXY"
	JobTypeReplaceProxy   = "REPLACE_PROXY"
	JobTypeMainInstall    = "MAIN_INSTALL_PLUGIN"
	JobTypePushConfig     = "PUSH_CONFIG"
)

// ActionName 步骤动作
const (
	ActionInstall    = "INSTALL"
	ActionReinstall  = "REINSTALL"
	ActionUpgrade    = "UPGRADE"
	ActionUninstall  = "UNINSTALL"
	ActionRestart    = "RESTART"
	ActionReload     = "RELOAD"
	ActionReplace    = "REPLACE"
	ActionPushConfig = "PUSH_CONFIG"
	ActionSkip       = "SKIP"
	ActionDelegate   = "DELEGATE"
	ActionUnDelegate = "UNDELEGATE"
)

// JobStatus 任务/实例/原子状态
const (
	StatusPending    = "PENDING"
	StatusScheduled  = "SCHEDULED"
	StatusRunning    = "RUNNING"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
	StatusPartFailed = "PART_FAILED"
	StatusTerminated = "TERMINATED"
	StatusRemoved    = "REMOVED"
	StatusRevoked    = "REVOKED"
	StatusRetryWait  = "RETRY_WAIT"
	StatusSkipped    = "SKIPPED"
	StatusIgnored    = "IGNORED"
)

// statusRank 状态推进次序，只允许单调前进；原子与实例记录共用
var statusRank = map[string]int{
	StatusPending:   0,
	StatusScheduled: 1,
	StatusRetryWait: 1,
	StatusRunning:   2,
	StatusSuccess:   3,
	StatusFailed:    3,
	StatusSkipped:   3,
	StatusRevoked:   3,
}

// StatusCanAdvance 判断状态能否从 from 推进到 to，终态之间不允许改写
func StatusCanAdvance(from, to string) bool {
	fr, ok := statusRank[from]
	if !ok {
		return true
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	// RETRY_WAIT → RUNNING 属于回退推进，单独放行
	if from == StatusRetryWait && to == StatusRunning {
		return true
	}
	if from == StatusRunning && to == StatusRetryWait {
		return true
	}
	return tr > fr
}

// IsTerminalStatus 终态判断，终态具有粘性
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusRevoked, StatusPartFailed, StatusTerminated, StatusRemoved:
		return true
	}
	return false
}

// GlobalSettings 配置键
const (
	KeyCleanSubscriptionDataMap     = "CLEAN_SUBSCRIPTION_DATA_MAP"
	KeyHostEventCursor              = "CMDB_HOST_EVENT_CURSOR"
	KeyInstallChannelNetworkSegment = "INSTALL_CHANNEL_ID_NETWORK_SEGMENT"
	KeyInstallDefaultValues         = "INSTALL_DEFAULT_VALUES"
)

// 订阅数据清理默认值
const (
	DefaultCleanRecordLimit = 5000
	DefaultAliveDays        = 30
)

// InstanceNodeID 生成实例 ID，形如 host|instance|host|1001
func InstanceNodeID(objectType, nodeType string, id interface{}) string {
	return fmt.Sprintf("%s|%s|%s|%v", Lower(objectType), Lower(nodeType), Lower(objectType), id)
}

// Lower ASCII 小写转换
func Lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
