package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/password"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/pipeline"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/plan"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/scope"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/dto"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/repository"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

type SubscriptionService interface {
	Create(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	Update(id int64, req *dto.UpdateSubscriptionRequest) error
	Delete(id int64) error
	Run(ctx context.Context, id int64, req *dto.RunSubscriptionRequest) (*dto.RunResult, error)
	Revoke(taskID int64) error
	TaskResult(taskID int64) (*dto.TaskResult, error)
	InstanceStatus(subscriptionID int64, instanceID string) (*dto.InstanceStatus, error)
}

type subscriptionService struct {
	subs       repository.SubscriptionRepository
	tasks      repository.SubscriptionTaskRepository
	records    repository.InstanceRecordRepository
	details    repository.StatusDetailRepository
	jobs       repository.JobRepository
	hosts      repository.HostRepository
	identities repository.IdentityRepository
	aps        repository.AccessPointRepository
	channels   repository.InstallChannelRepository
	settings   repository.GlobalSettingsRepository

	resolver  *scope.Resolver
	runner    *pipeline.Runner
	passwords password.Provider
	runEnv    string
}

func NewSubscriptionService(
	subs repository.SubscriptionRepository,
	tasks repository.SubscriptionTaskRepository,
	records repository.InstanceRecordRepository,
	details repository.StatusDetailRepository,
	jobs repository.JobRepository,
	hosts repository.HostRepository,
	identities repository.IdentityRepository,
	aps repository.AccessPointRepository,
	channels repository.InstallChannelRepository,
	settings repository.GlobalSettingsRepository,
	resolver *scope.Resolver,
	runner *pipeline.Runner,
	passwords password.Provider,
	runEnv string,
) SubscriptionService {
	return &subscriptionService{
		subs:       subs,
		tasks:      tasks,
		records:    records,
		details:    details,
		jobs:       jobs,
		hosts:      hosts,
		identities: identities,
		aps:        aps,
		channels:   channels,
		settings:   settings,
		resolver:   resolver,
		runner:     runner,
		passwords:  passwords,
		runEnv:     runEnv,
	}
}

func (s *subscriptionService) Create(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	category := req.Category
	if category == "" {
		category = constants.CategoryOnce
	}
	if category == constants.CategoryOnce && req.BkBizID == nil {
		return nil, pkgErrors.NewKind(pkgErrors.KindValidation, "一次性订阅必须绑定业务")
	}

	sub := &model.Subscription{
		Name:       req.Name,
		BkBizID:    req.BkBizID,
		ObjectType: req.ObjectType,
		NodeType:   req.NodeType,
		Nodes:      datatypes.JSON(req.Nodes),
		FromSystem: req.FromSystem,
		Creator:    req.Creator,
		Enable:     true,
		Category:   category,
		PluginName: req.PluginName,
	}
	if len(req.BkBizScope) > 0 {
		raw, _ := json.Marshal(req.BkBizScope)
		sub.BkBizScope = raw
	}
	steps, err := buildSteps(req.Steps)
	if err != nil {
		return nil, err
	}
	if err := s.subs.Create(sub, steps); err != nil {
		return nil, err
	}

	resp := &dto.SubscriptionResponse{SubscriptionID: sub.ID}
	if req.RunImmediately {
		result, err := s.Run(ctx, sub.ID, &dto.RunSubscriptionRequest{JobType: req.JobType})
		if err != nil {
			return nil, err
		}
		resp.TaskID = result.TaskID
		resp.JobID = result.JobID
	}
	return resp, nil
}

func buildSteps(payloads []dto.StepPayload) ([]*model.SubscriptionStep, error) {
	steps := make([]*model.SubscriptionStep, 0, len(payloads))
	seen := map[string]struct{}{}
	for i, payload := range payloads {
		if _, dup := seen[payload.StepID]; dup {
			return nil, pkgErrors.NewKind(pkgErrors.KindValidation, "步骤ID重复 "+payload.StepID)
		}
		seen[payload.StepID] = struct{}{}
		index := payload.Index
		if index == 0 {
			index = i
		}
		steps = append(steps, &model.SubscriptionStep{
			StepID: payload.StepID,
			Type:   payload.Type,
			Index:  index,
			Config: payload.Config,
			Params: payload.Params,
		})
	}
	return steps, nil
}

func (s *subscriptionService) Update(id int64, req *dto.UpdateSubscriptionRequest) error {
	sub, err := s.subs.FindByID(id)
	if err != nil {
		return err
	}
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Enable != nil {
		sub.Enable = *req.Enable
	}
	if len(req.Nodes) > 0 {
		if _, err := scope.ParseNodes(req.Nodes); err != nil {
			return err
		}
		sub.Nodes = datatypes.JSON(req.Nodes)
	}
	if err := s.subs.Update(sub); err != nil {
		return err
	}
	if len(req.Steps) > 0 {
		steps, err := buildSteps(req.Steps)
		if err != nil {
			return err
		}
		return s.subs.UpdateSteps(id, steps)
	}
	return nil
}

func (s *subscriptionService) Delete(id int64) error {
	if _, err := s.subs.FindByID(id); err != nil {
		return err
	}
	return s.subs.SoftDelete(id)
}

// Run 创建任务：冻结范围、展开实例、推导动作、落库后批量投递流水线
func (s *subscriptionService) Run(ctx context.Context, id int64, req *dto.RunSubscriptionRequest) (*dto.RunResult, error) {
	sub, err := s.subs.FindByID(id)
	if err != nil {
		return nil, err
	}
	if !sub.Enable {
		return nil, pkgErrors.NewKind(pkgErrors.KindValidation, "订阅已停用")
	}
	snapshot, err := scope.SnapshotOf(sub)
	if err != nil {
		return nil, err
	}

	task := &model.SubscriptionTask{
		SubscriptionID: id,
		Scope:          sub.Nodes,
	}
	if err := s.tasks.Create(task); err != nil {
		return nil, err
	}

	result, err := s.expandAndPlan(ctx, sub, task, snapshot, req)
	if err != nil {
		// 范围展开失败的任务立刻标记，避免卡在 not-ready
		_ = s.tasks.MarkFailed(task.ID, err.Error())
		return nil, err
	}
	return result, nil
}

type plannedInstance struct {
	instance scope.Instance
	host     *model.Host
	record   *model.SubscriptionInstanceRecord
	// effective 各步骤合并安装默认值后的生效配置
	effective map[string]map[string]interface{}
}

func (s *subscriptionService) expandAndPlan(ctx context.Context, sub *model.Subscription,
	task *model.SubscriptionTask, snapshot scope.Snapshot, req *dto.RunSubscriptionRequest) (*dto.RunResult, error) {

	instances, err := s.resolver.Resolve(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, pkgErrors.WrapKind(pkgErrors.KindScopeUnresolvable, "订阅范围内没有任何主机", nil)
	}

	jobType := req.JobType
	if jobType == "" {
		jobType = constants.JobTypeInstallAgent
	}
	defaults, err := s.installDefaults()
	if err != nil {
		return nil, err
	}

	pipelineID := uuid.NewString()
	actions := map[string]map[string]string{}
	var planned []plannedInstance
	var errorHosts []dto.ErrorHost

	for _, instance := range instances {
		host, absent, err := s.ensureHost(instance, jobType)
		if err != nil {
			return nil, err
		}

		stepActions := map[string]string{}
		steps := make([]model.InstanceStep, 0, len(sub.Steps))
		effective := map[string]map[string]interface{}{}
		var planErr error
		for _, step := range sub.Steps {
			action, err := s.planStep(host, absent, step, jobType, req.Actions)
			if err != nil {
				planErr = err
				break
			}
			stepActions[step.StepID] = action
			steps = append(steps, model.InstanceStep{
				ID:         step.StepID,
				Type:       step.Type,
				Action:     action,
				PipelineID: pipelineID,
			})
			effective[step.StepID] = mergeInstallDefaults(defaults, host.OsType, step.Config)
		}
		if planErr != nil {
			errorHosts = append(errorHosts, dto.ErrorHost{
				BkHostID: host.BkHostID,
				IP:       host.AnyInnerIP(),
				Reason:   planErr.Error(),
			})
			continue
		}

		record := &model.SubscriptionInstanceRecord{
			TaskID:         task.ID,
			SubscriptionID: sub.ID,
			InstanceID:     instance.ID,
			InstanceInfo:   mustJSON(instance.Info),
			PipelineID:     pipelineID,
			Status:         constants.StatusPending,
			NeedClean:      needClean(stepActions),
			IsLatest:       true,
		}
		if err := record.SetStepList(steps); err != nil {
			return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "序列化步骤信息失败", err)
		}
		actions[instance.ID] = stepActions
		planned = append(planned, plannedInstance{
			instance: instance, host: host, record: record, effective: effective,
		})
	}

	if len(planned) == 0 {
		return nil, pkgErrors.NewKind(pkgErrors.KindValidation, "所有主机均规划失败")
	}

	instanceIDs := make([]string, 0, len(planned))
	records := make([]*model.SubscriptionInstanceRecord, 0, len(planned))
	for _, p := range planned {
		instanceIDs = append(instanceIDs, p.instance.ID)
		records = append(records, p.record)
	}
	if err := s.records.BulkCreateLatest(sub.ID, instanceIDs, records); err != nil {
		return nil, err
	}
	if err := s.tasks.MarkReady(task.ID, mustJSON(actions), pipelineID); err != nil {
		return nil, err
	}

	job := &model.Job{
		CreatedBy:      sub.Creator,
		JobType:        jobType,
		SubscriptionID: sub.ID,
		TaskIDList:     mustJSON([]int64{task.ID}),
		Status:         constants.StatusRunning,
		BkBizScope:     sub.BkBizScope,
	}
	if len(errorHosts) > 0 {
		job.ErrorHosts = mustJSON(errorHosts)
	}
	if err := s.jobs.Create(job); err != nil {
		return nil, err
	}

	s.refreshTjjCredentials(ctx, planned)

	if err := s.submitPlanned(ctx, sub, planned); err != nil {
		return nil, err
	}

	logger.Info("订阅任务已投递",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("task_id", task.ID),
		zap.Int("instances", len(planned)),
		zap.Int("error_hosts", len(errorHosts)))

	return &dto.RunResult{
		SubscriptionID: sub.ID,
		TaskID:         task.ID,
		JobID:          job.ID,
		InstanceCount:  len(planned),
		ErrorHosts:     errorHosts,
	}, nil
}

// planStep 推导单步动作，显式指定的动作优先
func (s *subscriptionService) planStep(host *model.Host, absent bool,
	step *model.SubscriptionStep, jobType string, overrides map[string]string) (string, error) {
	if action, ok := overrides[step.StepID]; ok && action != "" {
		return action, nil
	}
	desired := plan.Desired{}
	if v, ok := step.Config["version"].(string); ok {
		desired.Version = v
	}
	if step.Type == constants.StepTypePlugin {
		return plan.PluginAction(plan.PluginState{
			Installed: !absent && host.Version != "",
			Running:   host.ExtraBool("plugin_running"),
			Version:   host.Version,
			AutoFlag:  host.ExtraBool("plugin_auto"),
		}, desired, pluginJobType(jobType))
	}
	return plan.AgentAction(plan.HostState{
		Absent:      absent,
		NodeType:    host.NodeType,
		Version:     host.Version,
		ConfigDrift: host.ExtraBool("config_drift"),
	}, desired, jobType)
}

func pluginJobType(jobType string) string {
	if jobType == constants.JobTypePushConfig {
		return jobType
	}
	return constants.JobTypeMainInstall
}

// ensureHost 取主机档案，范围内新主机先入库
func (s *subscriptionService) ensureHost(instance scope.Instance, jobType string) (*model.Host, bool, error) {
	host, err := s.hosts.FindByID(instance.Host.BkHostID)
	if err == nil {
		return host, false, nil
	}
	if appErr, ok := err.(*pkgErrors.AppError); !ok || appErr.Code != pkgErrors.CodeNotFound {
		return nil, false, err
	}

	// CMDB 侧更换过主机ID时同 (管控区域, 内网IP) 的旧档案作废，避免双活
	if instance.Host.BkHostInnerIP != "" {
		stale, err := s.hosts.FindByCloudInnerIP(instance.Host.BkCloudID, instance.Host.BkHostInnerIP)
		if err == nil && stale.BkHostID != instance.Host.BkHostID {
			if err := s.hosts.SoftDelete(stale.BkHostID); err != nil {
				return nil, false, err
			}
		} else if err != nil && !errors.Is(err, pkgErrors.ErrHostNotFound) {
			return nil, false, err
		}
	}

	nodeType := constants.NodeTypeAgent
	if jobType == constants.JobTypeInstallProxy || jobType == constants.JobTypeReinstallProxy ||
		jobType == constants.JobTypeUpgradeProxy || jobType == constants.JobTypeReplaceProxy {
		nodeType = constants.NodeTypeProxy
	} else if instance.Host.BkCloudID != constants.DefaultCloudID {
		nodeType = constants.NodeTypePagent
	}
	osType := instance.Host.BkOsType
	if osType == "" {
		osType = constants.OsTypeLinux
	}
	cpuArch := instance.Host.BkCpuArch
	if cpuArch == "" {
		cpuArch = constants.CpuArchX86_64
	}
	host = &model.Host{
		BkHostID:  instance.Host.BkHostID,
		BkBizID:   instance.Host.BkBizID,
		BkCloudID: instance.Host.BkCloudID,
		InnerIP:   instance.Host.BkHostInnerIP,
		InnerIPv6: instance.Host.BkHostInnerIPv6,
		OuterIP:   instance.Host.BkHostOuterIP,
		OsType:    osType,
		CpuArch:   cpuArch,
		NodeType:  nodeType,
	}
	if err := s.hosts.Save(host); err != nil {
		return nil, false, err
	}
	return host, true, nil
}

// refreshTjjCredentials 安装前为铁将军托管主机批量取密并落库，取密失败不阻断投递
func (s *subscriptionService) refreshTjjCredentials(ctx context.Context, planned []plannedInstance) {
	if s.passwords == nil {
		return
	}
	var requests []password.Request
	byHost := map[int64]*model.IdentityData{}
	for _, p := range planned {
		if !hasInstallAction(p.record.StepList()) {
			continue
		}
		identity, err := s.identities.FindByHostID(p.host.BkHostID)
		if err != nil || identity.AuthType != constants.AuthTypeTjj {
			continue
		}
		requests = append(requests, password.Request{
			BkHostID: p.host.BkHostID,
			IP:       p.host.AnyInnerIP(),
			Account:  identity.Account,
		})
		byHost[p.host.BkHostID] = identity
	}
	if len(requests) == 0 {
		return
	}

	fetched, err := s.passwords.GetPasswords(ctx, requests)
	if err != nil {
		logger.Warn("托管密码批量获取失败", zap.Int("hosts", len(requests)), zap.Error(err))
		return
	}
	defer password.DestroyAll(fetched)

	for hostID, buffer := range fetched {
		identity := byHost[hostID]
		if identity == nil || buffer == nil {
			continue
		}
		identity.Password = buffer.String()
		if err := s.identities.Save(identity); err != nil {
			logger.Warn("托管密码落库失败", zap.Int64("bk_host_id", hostID), zap.Error(err))
		}
		identity.Password = ""
	}
}

func hasInstallAction(steps []model.InstanceStep) bool {
	for _, step := range steps {
		switch step.Action {
		case constants.ActionInstall, constants.ActionReinstall, constants.ActionReplace:
			return true
		}
	}
	return false
}

// submitPlanned 为每条记录编译原子并投递运行器
// 一个实例只投递一个执行单元，步骤按声明顺序装入，实例内严格串行
func (s *subscriptionService) submitPlanned(ctx context.Context, sub *model.Subscription, planned []plannedInstance) error {
	for _, p := range planned {
		ap, err := s.accessPointFor(p.host)
		if err != nil {
			return err
		}
		channel, err := s.installChannelFor(p.host)
		if err != nil {
			return err
		}
		var proxies []*model.Host
		if p.host.BkCloudID != constants.DefaultCloudID && p.host.NodeType != constants.NodeTypeProxy {
			proxies, err = s.hosts.ListProxies(p.host.BkCloudID)
			if err != nil {
				return err
			}
		}

		stepList := p.record.StepList()
		steps := make([]pipeline.StepRun, 0, len(stepList))
		for _, step := range stepList {
			activities, err := pipeline.Compile(step.ID, step.Type, step.Action, s.runEnv)
			if err != nil {
				return err
			}
			steps = append(steps, pipeline.StepRun{
				Step:       step,
				Config:     p.effective[step.ID],
				Activities: activities,
			})
		}
		jobUnit := &pipeline.InstanceJob{
			Record:         p.record,
			Host:           p.host,
			Ap:             ap,
			InstallChannel: channel,
			CloudProxies:   proxies,
			Steps:          steps,
		}
		if err := s.runner.Submit(ctx, jobUnit); err != nil {
			return err
		}
	}
	return nil
}

// installChannelFor 显式指定优先，未指定时按全局网段配置匹配内网IP自动选择
func (s *subscriptionService) installChannelFor(host *model.Host) (*model.InstallChannel, error) {
	if host.InstallChannelID != nil {
		return s.channels.FindByID(*host.InstallChannelID)
	}

	segments := map[string][]string{}
	found, err := s.settings.GetJSON(constants.KeyInstallChannelNetworkSegment, &segments)
	if err != nil || !found {
		return nil, err
	}
	ip := net.ParseIP(host.AnyInnerIP())
	if ip == nil {
		return nil, nil
	}
	for channelID, cidrs := range segments {
		for _, cidr := range cidrs {
			_, ipNet, err := net.ParseCIDR(cidr)
			if err != nil {
				logger.Warn("安装通道网段配置不合法",
					zap.String("channel_id", channelID), zap.String("cidr", cidr))
				continue
			}
			if !ipNet.Contains(ip) {
				continue
			}
			id, err := strconv.ParseInt(channelID, 10, 64)
			if err != nil {
				return nil, pkgErrors.New(pkgErrors.CodeValidationError,
					fmt.Sprintf("安装通道网段配置键不是通道ID: %s", channelID))
			}
			return s.channels.FindByID(id)
		}
	}
	return nil, nil
}

func (s *subscriptionService) accessPointFor(host *model.Host) (*model.AccessPoint, error) {
	if host.ApID == nil || *host.ApID == constants.DefaultAPID {
		return s.aps.FindDefault()
	}
	return s.aps.FindByID(*host.ApID)
}

// Revoke 撤销任务，正在执行的原子允许完成
func (s *subscriptionService) Revoke(taskID int64) error {
	if _, err := s.tasks.FindByID(taskID); err != nil {
		return err
	}
	s.runner.Revoke(taskID)
	logger.Info("任务撤销标记已设置", zap.Int64("task_id", taskID))
	return nil
}

func needClean(stepActions map[string]string) bool {
	for _, action := range stepActions {
		if action == constants.ActionInstall || action == constants.ActionReinstall {
			return true
		}
	}
	return false
}

func mustJSON(value interface{}) datatypes.JSON {
	raw, err := json.Marshal(value)
	if err != nil {
		return datatypes.JSON(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return raw
}
