package repository

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// JobRepository 作业仓储接口
type JobRepository interface {
	Create(job *model.Job) error
	FindByID(id int64) (*model.Job, error)
	ListBySubscriptionID(subscriptionID int64) ([]*model.Job, error)
	Update(job *model.Job) error
	UpdateStatus(id int64, status string, statistics map[string]interface{}) error
}

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建作业仓储实例
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// Create 创建作业
func (r *jobRepository) Create(job *model.Job) error {
	if err := r.db.Create(job).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建作业失败", err)
	}
	return nil
}

// FindByID 根据ID查询作业
func (r *jobRepository) FindByID(id int64) (*model.Job, error) {
	var job model.Job
	err := r.db.First(&job, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询作业失败", err)
	}
	return &job, nil
}

// ListBySubscriptionID 查询订阅下的作业，按创建时间倒序
func (r *jobRepository) ListBySubscriptionID(subscriptionID int64) ([]*model.Job, error) {
	var jobs []*model.Job
	err := r.db.Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询作业列表失败", err)
	}
	return jobs, nil
}

// Update 更新作业
func (r *jobRepository) Update(job *model.Job) error {
	if err := r.db.Save(job).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新作业失败", err)
	}
	return nil
}

// UpdateStatus 更新作业状态及统计信息
func (r *jobRepository) UpdateStatus(id int64, status string, statistics map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	if statistics != nil {
		updates["statistics"] = datatypes.JSONMap(statistics)
	}
	err := r.db.Model(&model.Job{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新作业状态失败", err)
	}
	return nil
}

// RequestTraceRepository 请求追踪仓储接口
type RequestTraceRepository interface {
	Create(record *model.RequestTraceRecord) error
	// DeleteOlderThan 删除超过保留期的追踪记录
	DeleteOlderThan(aliveDays int) (int64, error)
}

type requestTraceRepository struct {
	db *gorm.DB
}

// NewRequestTraceRepository 创建请求追踪仓储实例
func NewRequestTraceRepository(db *gorm.DB) RequestTraceRepository {
	return &requestTraceRepository{db: db}
}

// Create 创建追踪记录
func (r *requestTraceRepository) Create(record *model.RequestTraceRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建请求追踪记录失败", err)
	}
	return nil
}

// DeleteOlderThan 删除超过保留期的追踪记录
func (r *requestTraceRepository) DeleteOlderThan(aliveDays int) (int64, error) {
	deadline := time.Now().AddDate(0, 0, -aliveDays)
	result := r.db.Where("created_at < ?", deadline).Delete(&model.RequestTraceRecord{})
	if result.Error != nil {
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "清理请求追踪记录失败", result.Error)
	}
	return result.RowsAffected, nil
}
