package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/dto"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/service"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/responses"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/utils"
)

type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
	}
}

// Create 创建订阅，run_immediately 置位时立刻触发一次执行
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithCode(c, pkgErrors.CodeBadRequest, "请求参数错误: "+utils.FormatValidationError(err))
		return
	}

	resp, err := h.subscriptionService.Create(c.Request.Context(), &req)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, resp)
}

// Update 更新订阅范围或步骤
func (h *SubscriptionHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithCode(c, pkgErrors.CodeBadRequest, "请求参数错误: "+utils.FormatValidationError(err))
		return
	}

	if err := h.subscriptionService.Update(id, &req); err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, gin.H{"subscription_id": id})
}

// Delete 删除订阅（软删除）
func (h *SubscriptionHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.subscriptionService.Delete(id); err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, gin.H{"subscription_id": id})
}

// Run 触发订阅执行，返回任务ID
func (h *SubscriptionHandler) Run(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.RunSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithCode(c, pkgErrors.CodeBadRequest, "请求参数错误: "+utils.FormatValidationError(err))
		return
	}

	result, err := h.subscriptionService.Run(c.Request.Context(), id, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, result)
}

// Revoke 撤销任务，正在执行的原子允许完成
func (h *SubscriptionHandler) Revoke(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil {
		responses.ErrorWithCode(c, pkgErrors.CodeBadRequest, "task_id 不合法")
		return
	}
	if err := h.subscriptionService.Revoke(taskID); err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, gin.H{"task_id": taskID})
}

// TaskResult 查询任务结果
func (h *SubscriptionHandler) TaskResult(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil {
		responses.ErrorWithCode(c, pkgErrors.CodeBadRequest, "task_id 不合法")
		return
	}
	result, err := h.subscriptionService.TaskResult(taskID)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, result)
}

// InstanceStatus 查询实例最新执行状态
func (h *SubscriptionHandler) InstanceStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	instanceID := c.Query("instance_id")
	if instanceID == "" {
		responses.ErrorWithCode(c, pkgErrors.CodeBadRequest, "instance_id 不能为空")
		return
	}
	status, err := h.subscriptionService.InstanceStatus(id, instanceID)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, status)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		responses.ErrorWithCode(c, pkgErrors.CodeBadRequest, "订阅ID不合法")
		return 0, false
	}
	return id, true
}
