package repository

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// StatusDetailRepository 实例状态详情仓储接口
type StatusDetailRepository interface {
	Append(detail *model.SubscriptionInstanceStatusDetail) error
	ListByRecordID(recordID int64) ([]*model.SubscriptionInstanceStatusDetail, error)
	// LatestPerNode 取每个 node_id 的最新一行作为权威状态
	LatestPerNode(recordID int64) (map[string]*model.SubscriptionInstanceStatusDetail, error)
	// Prune 清理早于 aliveDays 且状态不在 saveStatuses 中的记录，单次至多 limit 行
	Prune(aliveDays int, limit int, saveStatuses []string) (int64, error)
}

type statusDetailRepository struct {
	db *gorm.DB
}

// NewStatusDetailRepository 创建状态详情仓储实例
func NewStatusDetailRepository(db *gorm.DB) StatusDetailRepository {
	return &statusDetailRepository{db: db}
}

// Append 追加一行状态详情
func (r *statusDetailRepository) Append(detail *model.SubscriptionInstanceStatusDetail) error {
	if detail.CreateTime.IsZero() {
		detail.CreateTime = time.Now()
	}
	if err := r.db.Create(detail).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "写入状态详情失败", err)
	}
	return nil
}

// ListByRecordID 查询实例的全部状态详情，按写入顺序
func (r *statusDetailRepository) ListByRecordID(recordID int64) ([]*model.SubscriptionInstanceStatusDetail, error) {
	var details []*model.SubscriptionInstanceStatusDetail
	err := r.db.Where("subscription_instance_record_id = ?", recordID).
		Order("id").
		Find(&details).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询状态详情失败", err)
	}
	return details, nil
}

// LatestPerNode 同 node_id 的多行取最新
func (r *statusDetailRepository) LatestPerNode(recordID int64) (map[string]*model.SubscriptionInstanceStatusDetail, error) {
	details, err := r.ListByRecordID(recordID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*model.SubscriptionInstanceStatusDetail)
	for _, detail := range details {
		latest[detail.NodeID] = detail
	}
	return latest, nil
}

// Prune 按保留策略分状态删除，时间表按 create_time 倒序限量
func (r *statusDetailRepository) Prune(aliveDays int, limit int, saveStatuses []string) (int64, error) {
	saveSet := map[string]struct{}{}
	for _, status := range saveStatuses {
		saveSet[status] = struct{}{}
	}

	// 日志表只有 PENDING RUNNING SUCCESS FAILED 几种状态
	var deleteStatuses []string
	for _, status := range []string{
		constants.StatusPending, constants.StatusRunning, constants.StatusSuccess, constants.StatusFailed,
	} {
		if _, ok := saveSet[status]; !ok {
			deleteStatuses = append(deleteStatuses, status)
		}
	}

	var total int64
	for _, status := range deleteStatuses {
		sql := fmt.Sprintf(
			"DELETE FROM %s WHERE status = ? AND create_time < DATE_SUB(NOW(), INTERVAL ? DAY) ORDER BY create_time DESC LIMIT ?",
			model.SubscriptionInstanceStatusDetailTableName,
		)
		result := r.db.Exec(sql, status, aliveDays, limit)
		if result.Error != nil {
			return total, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "清理状态详情失败", result.Error)
		}
		total += result.RowsAffected
	}
	return total, nil
}

// JobMapRepository 作业平台映射仓储接口
type JobMapRepository interface {
	Create(jobMap *model.JobSubscriptionInstanceMap) error
	FindByJobInstance(jobInstanceID int64, nodeID string) (*model.JobSubscriptionInstanceMap, error)
	UpdateStatus(id int64, status string) error
	// PruneByStatus 删除指定状态的映射记录，appointStatuses 为空时跳过（设计如此，无时间过滤）
	PruneByStatus(appointStatuses []string, limit int) (int64, error)
}

type jobMapRepository struct {
	db *gorm.DB
}

// NewJobMapRepository 创建作业平台映射仓储实例
func NewJobMapRepository(db *gorm.DB) JobMapRepository {
	return &jobMapRepository{db: db}
}

// Create 创建映射记录
func (r *jobMapRepository) Create(jobMap *model.JobSubscriptionInstanceMap) error {
	if err := r.db.Create(jobMap).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建作业映射失败", err)
	}
	return nil
}

// FindByJobInstance 根据作业实例与节点查询
func (r *jobMapRepository) FindByJobInstance(jobInstanceID int64, nodeID string) (*model.JobSubscriptionInstanceMap, error) {
	var jobMap model.JobSubscriptionInstanceMap
	err := r.db.Where("job_instance_id = ? AND node_id = ?", jobInstanceID, nodeID).
		First(&jobMap).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询作业映射失败", err)
	}
	return &jobMap, nil
}

// UpdateStatus 更新映射状态
func (r *jobMapRepository) UpdateStatus(id int64, status string) error {
	err := r.db.Model(&model.JobSubscriptionInstanceMap{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新作业映射状态失败", err)
	}
	return nil
}

// PruneByStatus 删除指定状态的映射记录
func (r *jobMapRepository) PruneByStatus(appointStatuses []string, limit int) (int64, error) {
	// appoint_clean_status 为空时，不需要进行后续清理动作
	if len(appointStatuses) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(appointStatuses)), ",")
	sql := fmt.Sprintf(
		"DELETE FROM %s WHERE status IN (%s) LIMIT ?",
		model.JobSubscriptionInstanceMapTableName, placeholders,
	)
	args := make([]interface{}, 0, len(appointStatuses)+1)
	for _, status := range appointStatuses {
		args = append(args, status)
	}
	args = append(args, limit)

	result := r.db.Exec(sql, args...)
	if result.Error != nil {
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "清理作业映射失败", result.Error)
	}
	return result.RowsAffected, nil
}
