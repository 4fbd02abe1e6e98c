package pipeline

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/gse"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/jobplatform"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/storage"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/render"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/upstream"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/repository"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// StepRun 实例内单个步骤的原子序列
type StepRun struct {
	Step       model.InstanceStep
	Config     map[string]interface{}
	Activities []Activity
}

func (s StepRun) configString(key, def string) string {
	if v, ok := s.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (s StepRun) configBool(key string) bool {
	v, ok := s.Config[key].(bool)
	return ok && v
}

// InstanceJob 单实例的流水线执行单元，创建后只读
// 实例的全部步骤装进同一个单元，保证实例内原子严格串行、状态机只被一条协作任务驱动
type InstanceJob struct {
	Record         *model.SubscriptionInstanceRecord
	Host           *model.Host
	Ap             *model.AccessPoint
	InstallChannel *model.InstallChannel
	CloudProxies   []*model.Host

	// Steps 按订阅步骤 index 升序
	Steps []StepRun
}

// ChannelKey 租户并发闸门的键
func (j *InstanceJob) ChannelKey() string {
	channelID := int64(0)
	if j.Host.InstallChannelID != nil {
		channelID = *j.Host.InstallChannelID
	}
	return fmt.Sprintf("%d:%d", j.Host.BkCloudID, channelID)
}

// execState 原子间传递的步骤内临时状态，每个步骤重新开始
type execState struct {
	step           StepRun
	upstream       *upstream.Upstream
	renderedConfig string
	scriptName     string
	jobInstanceID  int64
	jobNodeID      string
	procID         string

	// onRateLimited 上报限流信号触发闸门降速，轮询内被吞掉的限流错误也要上报
	onRateLimited func()
}

func (s *execState) noteRateLimited(err error) {
	if err != nil && pkgErrors.KindOf(err) == pkgErrors.KindRateLimited && s.onRateLimited != nil {
		s.onRateLimited()
	}
}

// Executor 原子执行器，按类型分发；重试与超时由 runner 掌管
type Executor struct {
	jobClient  jobplatform.Client
	gseClient  gse.Client
	cmdbClient cmdb.Client
	store      storage.Store
	renderer   *render.Renderer

	hosts   repository.HostRepository
	jobMaps repository.JobMapRepository
	records repository.InstanceRecordRepository

	runEnv string
	rand   *rand.Rand

	// fetchPublicKey 企业版 ESB 公钥拉取，可为空
	fetchPublicKey func(ctx context.Context) error
}

// ExecutorDeps 执行器依赖
type ExecutorDeps struct {
	JobClient  jobplatform.Client
	GseClient  gse.Client
	CmdbClient cmdb.Client
	Store      storage.Store
	Renderer   *render.Renderer

	Hosts   repository.HostRepository
	JobMaps repository.JobMapRepository
	Records repository.InstanceRecordRepository

	RunEnv         string
	Rand           *rand.Rand
	FetchPublicKey func(ctx context.Context) error
}

// NewExecutor 创建执行器
func NewExecutor(deps ExecutorDeps) *Executor {
	return &Executor{
		jobClient:      deps.JobClient,
		gseClient:      deps.GseClient,
		cmdbClient:     deps.CmdbClient,
		store:          deps.Store,
		renderer:       deps.Renderer,
		hosts:          deps.Hosts,
		jobMaps:        deps.JobMaps,
		records:        deps.Records,
		runEnv:         deps.RunEnv,
		rand:           deps.Rand,
		fetchPublicKey: deps.FetchPublicKey,
	}
}

// Execute 执行单个原子的一次尝试
func (e *Executor) Execute(ctx context.Context, job *InstanceJob, act Activity, attempt int, state *execState) error {
	var err error
	switch act.Kind {
	case KindResolveUpstream:
		err = e.resolveUpstream(job, state)
	case KindRenderAgentConfig:
		err = e.renderConfig(job, state, constants.GseAgentRunModeAgent)
	case KindRenderProxyConfig:
		err = e.renderConfig(job, state, constants.GseAgentRunModeProxy)
	case KindChooseInstallerScript:
		err = e.chooseInstallerScript(job, state)
	case KindPushFilesViaJob:
		err = e.pushFilesViaJob(ctx, job, act, state)
	case KindRunScriptViaJob:
		err = e.runScriptViaJob(ctx, job, act, state)
	case KindWaitJobResult:
		err = e.waitJobResult(ctx, job, state)
	case KindVerifyAgentAlive:
		err = e.verifyAgentAlive(ctx, job, state)
	case KindRegisterHostToCmdb:
		err = e.registerHostToCmdb(ctx, job, act, attempt, state)
	case KindDelegatePluginToGse:
		err = e.operatePlugin(ctx, job, act, attempt, state, gse.ProcOpDelegate)
	case KindUndelegatePlugin:
		err = e.operatePlugin(ctx, job, act, attempt, state, gse.ProcOpUndelegate)
	case KindUpdateProcessStatus:
		err = e.updateProcessStatus(job, act, state)
	case KindFetchEsbPublicKey:
		if e.fetchPublicKey != nil {
			err = e.fetchPublicKey(ctx)
		}
	case KindRecordSuccess:
		err = e.records.UpdateStatus(job.Record.ID, constants.StatusSuccess)
	default:
		err = pkgErrors.WrapKind(pkgErrors.KindInternalInvariant, "未知的原子类型 "+act.Kind, nil)
	}

	state.noteRateLimited(err)
	return err
}

func (e *Executor) resolveUpstream(job *InstanceJob, state *execState) error {
	routed, err := upstream.Route(upstream.Input{
		Host:           job.Host,
		Ap:             job.Ap,
		InstallChannel: job.InstallChannel,
		CloudProxies:   job.CloudProxies,
		Rand:           e.rand,
	})
	if err != nil {
		return err
	}
	state.upstream = routed
	return nil
}

func (e *Executor) renderConfig(job *InstanceJob, state *execState, nodeType string) error {
	if state.upstream == nil {
		return pkgErrors.WrapKind(pkgErrors.KindInternalInvariant, "渲染前未完成上游路由", nil)
	}
	rendered, err := e.renderer.RenderAgentConfig(render.ContextInput{
		Host:     job.Host,
		Ap:       job.Ap,
		Upstream: state.upstream,
		NodeType: nodeType,
		RunEnv:   e.runEnv,
		Rand:     e.rand,
	}, state.step.configBool("is_legacy"))
	if err != nil {
		return err
	}
	state.renderedConfig = rendered
	return nil
}

func (e *Executor) chooseInstallerScript(job *InstanceJob, state *execState) error {
	state.scriptName = chooseSetupScript(job.Host)
	return nil
}

// chooseSetupScript 按节点类型与操作系统选择安装脚本
func chooseSetupScript(host *model.Host) string {
	if host.NodeType == constants.NodeTypeProxy {
		return constants.SetupScriptProxy
	}
	if host.NodeType == constants.NodeTypePagent {
		return constants.SetupScriptPagent
	}
	switch host.OsType {
	case constants.OsTypeWindows:
		return constants.SetupScriptAgentWindows
	case constants.OsTypeAix:
		return constants.SetupScriptAgentAix
	default:
		return constants.SetupScriptAgentLinux
	}
}

func (e *Executor) targetHosts(job *InstanceJob) []jobplatform.TargetHost {
	return []jobplatform.TargetHost{{
		BkHostID:  job.Host.BkHostID,
		BkCloudID: job.Host.BkCloudID,
		IP:        job.Host.AnyInnerIP(),
	}}
}

func (e *Executor) pushFilesViaJob(ctx context.Context, job *InstanceJob, act Activity, state *execState) error {
	if state.renderedConfig == "" {
		return pkgErrors.WrapKind(pkgErrors.KindInternalInvariant, "分发前未完成配置渲染", nil)
	}
	nodeType := constants.GseAgentRunModeAgent
	if job.Host.NodeType == constants.NodeTypeProxy {
		nodeType = constants.GseAgentRunModeProxy
	}
	agentConfig := job.Ap.AgentConfigFor(job.Host.AgentConfigOsKey())
	sep := constants.LinuxSep
	if job.Host.OsType == constants.OsTypeWindows {
		sep = constants.WindowsSep
	}
	fileName := state.step.configString("config_file_name", "gse_agent.conf")
	targetPath := strings.Join([]string{agentConfig.SetupPath, nodeType, "etc"}, sep)

	jobInstanceID, err := e.jobClient.PushFile(ctx, e.targetHosts(job), []jobplatform.FileSource{{
		Name:    fileName,
		Content: []byte(state.renderedConfig),
		Path:    targetPath,
	}}, state.step.configString("account", "root"))
	if err != nil {
		return err
	}
	state.jobInstanceID = jobInstanceID
	return e.recordJobMap(job, act, jobInstanceID, state)
}

func (e *Executor) runScriptViaJob(ctx context.Context, job *InstanceJob, act Activity, state *execState) error {
	scriptName := state.scriptName
	if scriptName == "" {
		scriptName = chooseSetupScript(job.Host)
	}
	script, err := e.loadScript(ctx, scriptName)
	if err != nil {
		return err
	}
	jobInstanceID, err := e.jobClient.RunScript(ctx, e.targetHosts(job), script,
		state.step.configString("script_params", ""), state.step.configString("account", "root"))
	if err != nil {
		return err
	}
	state.jobInstanceID = jobInstanceID
	return e.recordJobMap(job, act, jobInstanceID, state)
}

func (e *Executor) loadScript(ctx context.Context, name string) (string, error) {
	reader, err := e.store.Get(ctx, "scripts/"+name)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", pkgErrors.WrapKind(pkgErrors.KindServiceUnavailable, "读取安装脚本失败", err)
	}
	return string(raw), nil
}

// recordJobMap 登记作业平台任务与实例的映射，供回查与人工干预
func (e *Executor) recordJobMap(job *InstanceJob, act Activity, jobInstanceID int64, state *execState) error {
	state.jobNodeID = act.ID
	return e.jobMaps.Create(&model.JobSubscriptionInstanceMap{
		JobInstanceID:           jobInstanceID,
		SubscriptionInstanceIDs: datatypes.JSON(fmt.Sprintf("[%d]", job.Record.ID)),
		NodeID:                  act.ID,
		Status:                  constants.StatusRunning,
	})
}

func (e *Executor) waitJobResult(ctx context.Context, job *InstanceJob, state *execState) error {
	if state.jobInstanceID == 0 {
		return pkgErrors.WrapKind(pkgErrors.KindInternalInvariant, "等待前未提交作业", nil)
	}
	var finalStatus string
	err := pollWithBackoff(ctx, func(ctx context.Context) (bool, error) {
		status, err := e.jobClient.GetJobStatus(ctx, state.jobInstanceID)
		if err != nil {
			// 查询抖动不终止轮询
			if pkgErrors.IsRetryable(err) {
				state.noteRateLimited(err)
				return false, nil
			}
			return false, err
		}
		if status == jobplatform.JobStatusRunning {
			return false, nil
		}
		finalStatus = status
		return true, nil
	})
	if err != nil {
		return err
	}

	if finalStatus == jobplatform.JobStatusFailed {
		log, logErr := e.jobClient.GetJobLog(ctx, state.jobInstanceID, e.targetHosts(job)[0])
		if logErr != nil {
			log = "日志获取失败: " + logErr.Error()
		}
		e.markJobMap(state, constants.StatusFailed)
		return pkgErrors.Wrap(pkgErrors.CodeInternalError,
			fmt.Sprintf("作业 %d 执行失败: %s", state.jobInstanceID, log), nil)
	}
	e.markJobMap(state, constants.StatusSuccess)
	return nil
}

func (e *Executor) markJobMap(state *execState, status string) {
	jobMap, err := e.jobMaps.FindByJobInstance(state.jobInstanceID, state.jobNodeID)
	if err != nil || jobMap == nil {
		return
	}
	_ = e.jobMaps.UpdateStatus(jobMap.ID, status)
}

func (e *Executor) verifyAgentAlive(ctx context.Context, job *InstanceJob, state *execState) error {
	agentHost := gse.AgentHost{BkCloudID: job.Host.BkCloudID, IP: job.Host.AnyInnerIP()}
	var alive gse.AgentStatus
	err := pollWithBackoff(ctx, func(ctx context.Context) (bool, error) {
		statuses, err := e.gseClient.GetAgentStatus(ctx, []gse.AgentHost{agentHost})
		if err != nil {
			if pkgErrors.IsRetryable(err) {
				state.noteRateLimited(err)
				return false, nil
			}
			return false, err
		}
		status, ok := statuses[gse.HostKey(agentHost)]
		if !ok || !status.Alive {
			return false, nil
		}
		alive = status
		return true, nil
	})
	if err != nil {
		return err
	}
	// 安装成功回写 Agent 版本
	if alive.Version != "" {
		return e.hosts.UpdateVersion(job.Host.BkHostID, alive.Version)
	}
	return nil
}

func (e *Executor) registerHostToCmdb(ctx context.Context, job *InstanceJob, act Activity, attempt int, state *execState) error {
	_, err := e.cmdbClient.RegisterHost(ctx, cmdb.HostInfo{
		BkHostID:        job.Host.BkHostID,
		BkBizID:         job.Host.BkBizID,
		BkCloudID:       job.Host.BkCloudID,
		BkHostInnerIP:   job.Host.InnerIP,
		BkHostInnerIPv6: job.Host.InnerIPv6,
		BkHostOuterIP:   job.Host.OuterIP,
		BkOsType:        job.Host.OsType,
		BkCpuArch:       job.Host.CpuArch,
	}, idempotencyKey(job, state.step.Step.ID, act, attempt))
	return err
}

func (e *Executor) operatePlugin(ctx context.Context, job *InstanceJob, act Activity, attempt int, state *execState, op int) error {
	pluginName := state.step.configString("plugin_name", "")
	if pluginName == "" {
		return pkgErrors.NewKind(pkgErrors.KindValidation, "插件步骤缺少 plugin_name")
	}
	agentHost := gse.AgentHost{BkCloudID: job.Host.BkCloudID, IP: job.Host.AnyInnerIP()}

	// 注册幂等，undelegate 流水线也借此拿到 proc_id
	procID := state.procID
	if procID == "" {
		registered, err := e.gseClient.RegisterProc(ctx, agentHost, gse.ProcInfo{
			Namespace: "nodeman",
			Name:      pluginName,
			SetupPath: state.step.configString("setup_path", ""),
			PidPath:   state.step.configString("pid_path", ""),
			User:      state.step.configString("account", "root"),
			StartCmd:  state.step.configString("start_cmd", ""),
			StopCmd:   state.step.configString("stop_cmd", ""),
		}, idempotencyKey(job, state.step.Step.ID, act, attempt))
		if err != nil {
			return err
		}
		procID = registered
		state.procID = procID
	}

	taskID, err := e.gseClient.OperateProc(ctx, procID, op)
	if err != nil {
		return err
	}
	return pollWithBackoff(ctx, func(ctx context.Context) (bool, error) {
		result, err := e.gseClient.GetProcOperateResult(ctx, taskID)
		if err != nil {
			if pkgErrors.IsRetryable(err) {
				state.noteRateLimited(err)
				return false, nil
			}
			return false, err
		}
		switch result.Status {
		case constants.StatusSuccess:
			return true, nil
		case constants.StatusFailed:
			return false, pkgErrors.Wrap(pkgErrors.CodeInternalError, "进程操作失败: "+result.Detail, nil)
		default:
			return false, nil
		}
	})
}

// updateProcessStatus 回写进程/主机的归档状态
func (e *Executor) updateProcessStatus(job *InstanceJob, act Activity, state *execState) error {
	action, _ := act.Inputs["action"].(string)
	if action == constants.ActionUninstall {
		return e.hosts.UpdateVersion(job.Host.BkHostID, "")
	}
	steps := job.Record.StepList()
	for i := range steps {
		if steps[i].ID == state.step.Step.ID {
			if steps[i].ExtraInfo == nil {
				steps[i].ExtraInfo = map[string]interface{}{}
			}
			steps[i].ExtraInfo["process_status_updated_at"] = time.Now().Format(time.RFC3339)
		}
	}
	if err := job.Record.SetStepList(steps); err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "序列化步骤信息失败", err)
	}
	return e.records.UpdateSteps(job.Record)
}

// idempotencyKey 保证重试不会在外部系统产生重复副作用
func idempotencyKey(job *InstanceJob, stepID string, act Activity, attempt int) string {
	return fmt.Sprintf("%s|%s|%s|%d", job.Record.InstanceID, stepID, act.ID, attempt)
}

// pollWithBackoff 指数退避轮询，间隔 1s 起步封顶 30s；超出原子期限返回 ActivityTimeout
func pollWithBackoff(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	interval := time.Second
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return pkgErrors.WrapKind(pkgErrors.KindActivityTimeout, "轮询超出原子期限", ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > pollBackoffCap {
			interval = pollBackoffCap
		}
	}
}
