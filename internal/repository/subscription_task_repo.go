package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// SubscriptionTaskRepository 订阅任务仓储接口
type SubscriptionTaskRepository interface {
	Create(task *model.SubscriptionTask) error
	FindByID(id int64) (*model.SubscriptionTask, error)
	ListBySubscriptionID(subscriptionID int64) ([]*model.SubscriptionTask, error)
	Update(task *model.SubscriptionTask) error
	MarkReady(id int64, actions []byte, pipelineID string) error
	MarkFailed(id int64, errMsg string) error
	// ListStuckNotReady 查询超过 age 仍未就绪的任务
	ListStuckNotReady(age time.Duration, limit int) ([]*model.SubscriptionTask, error)
}

type subscriptionTaskRepository struct {
	db *gorm.DB
}

// NewSubscriptionTaskRepository 创建订阅任务仓储实例
func NewSubscriptionTaskRepository(db *gorm.DB) SubscriptionTaskRepository {
	return &subscriptionTaskRepository{db: db}
}

// Create 创建订阅任务
func (r *subscriptionTaskRepository) Create(task *model.SubscriptionTask) error {
	if err := r.db.Create(task).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建订阅任务失败", err)
	}
	return nil
}

// FindByID 根据ID查询订阅任务
func (r *subscriptionTaskRepository) FindByID(id int64) (*model.SubscriptionTask, error) {
	var task model.SubscriptionTask
	err := r.db.First(&task, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrTaskNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询订阅任务失败", err)
	}
	return &task, nil
}

// ListBySubscriptionID 查询订阅的全部任务，按创建时间倒序
func (r *subscriptionTaskRepository) ListBySubscriptionID(subscriptionID int64) ([]*model.SubscriptionTask, error) {
	var tasks []*model.SubscriptionTask
	err := r.db.Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询订阅任务列表失败", err)
	}
	return tasks, nil
}

// Update 更新订阅任务
func (r *subscriptionTaskRepository) Update(task *model.SubscriptionTask) error {
	if err := r.db.Save(task).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新订阅任务失败", err)
	}
	return nil
}

// MarkReady 实例记录全部落库后置位 is_ready，任务随即不可变
func (r *subscriptionTaskRepository) MarkReady(id int64, actions []byte, pipelineID string) error {
	err := r.db.Model(&model.SubscriptionTask{}).
		Where("id = ? AND is_ready = ?", id, false).
		Updates(map[string]interface{}{
			"is_ready":    true,
			"actions":     actions,
			"pipeline_id": pipelineID,
		}).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新订阅任务就绪状态失败", err)
	}
	return nil
}

// MarkFailed 记录任务级失败原因
func (r *subscriptionTaskRepository) MarkFailed(id int64, errMsg string) error {
	err := r.db.Model(&model.SubscriptionTask{}).
		Where("id = ?", id).
		Update("err_msg", errMsg).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新订阅任务失败原因失败", err)
	}
	return nil
}

// ListStuckNotReady 查询范围展开超时的任务
func (r *subscriptionTaskRepository) ListStuckNotReady(age time.Duration, limit int) ([]*model.SubscriptionTask, error) {
	var tasks []*model.SubscriptionTask
	deadline := time.Now().Add(-age)
	err := r.db.Where("is_ready = ? AND err_msg = '' AND created_at < ?", false, deadline).
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询未就绪任务失败", err)
	}
	return tasks, nil
}
