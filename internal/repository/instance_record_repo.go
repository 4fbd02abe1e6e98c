package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// InstanceRecordRepository 订阅实例执行记录仓储接口
type InstanceRecordRepository interface {
	// BulkCreateLatest 先将同 (subscription_id, instance_id) 旧记录的 is_latest 置否，再批量创建新记录
	BulkCreateLatest(subscriptionID int64, instanceIDs []string, records []*model.SubscriptionInstanceRecord) error
	FindByID(id int64) (*model.SubscriptionInstanceRecord, error)
	ListByTaskID(taskID int64) ([]*model.SubscriptionInstanceRecord, error)
	FindLatest(subscriptionID int64, instanceID string) (*model.SubscriptionInstanceRecord, error)
	// UpdateStatus 按 (subscription_id, instance_id) 行锁更新，避免重试与归约器并发写丢失
	UpdateStatus(id int64, status string) error
	UpdateSteps(record *model.SubscriptionInstanceRecord) error
	// ListRunningWithoutProgress 查询超过 age 无任何状态写入的 RUNNING 实例
	ListRunningWithoutProgress(age time.Duration, limit int) ([]*model.SubscriptionInstanceRecord, error)
	CountByTaskStatus(taskID int64) (map[string]int64, error)
}

type instanceRecordRepository struct {
	db *gorm.DB
}

// NewInstanceRecordRepository 创建实例记录仓储实例
func NewInstanceRecordRepository(db *gorm.DB) InstanceRecordRepository {
	return &instanceRecordRepository{db: db}
}

// BulkCreateLatest 取代旧记录并批量创建
func (r *instanceRecordRepository) BulkCreateLatest(
	subscriptionID int64,
	instanceIDs []string,
	records []*model.SubscriptionInstanceRecord,
) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if len(instanceIDs) > 0 {
			if err := tx.Model(&model.SubscriptionInstanceRecord{}).
				Where("subscription_id = ? AND instance_id IN ?", subscriptionID, instanceIDs).
				Update("is_latest", false).Error; err != nil {
				return err
			}
		}
		if len(records) > 0 {
			return tx.CreateInBatches(records, 100).Error
		}
		return nil
	})
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建实例执行记录失败", err)
	}
	return nil
}

// FindByID 根据ID查询实例记录
func (r *instanceRecordRepository) FindByID(id int64) (*model.SubscriptionInstanceRecord, error) {
	var record model.SubscriptionInstanceRecord
	err := r.db.First(&record, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询实例执行记录失败", err)
	}
	return &record, nil
}

// ListByTaskID 查询任务下的全部实例记录
func (r *instanceRecordRepository) ListByTaskID(taskID int64) ([]*model.SubscriptionInstanceRecord, error) {
	var records []*model.SubscriptionInstanceRecord
	err := r.db.Where("task_id = ?", taskID).Order("id").Find(&records).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询实例执行记录列表失败", err)
	}
	return records, nil
}

// FindLatest 查询实例的最新记录
func (r *instanceRecordRepository) FindLatest(subscriptionID int64, instanceID string) (*model.SubscriptionInstanceRecord, error) {
	var record model.SubscriptionInstanceRecord
	err := r.db.Where("subscription_id = ? AND instance_id = ? AND is_latest = ?",
		subscriptionID, instanceID, true).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询最新实例记录失败", err)
	}
	return &record, nil
}

// UpdateStatus 行锁更新实例状态
// 终态粘性：已到终态或逆序的写入按无操作处理，调和器标记的 FAILED 不会被晚到的 SUCCESS 覆盖
func (r *instanceRecordRepository) UpdateStatus(id int64, status string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var record model.SubscriptionInstanceRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&record, id).Error; err != nil {
			return err
		}
		if !constants.StatusCanAdvance(record.Status, status) {
			return nil
		}
		return tx.Model(&record).Update("status", status).Error
	})
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新实例状态失败", err)
	}
	return nil
}

// UpdateSteps 回写步骤信息
func (r *instanceRecordRepository) UpdateSteps(record *model.SubscriptionInstanceRecord) error {
	err := r.db.Model(record).Update("steps", record.Steps).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新实例步骤信息失败", err)
	}
	return nil
}

// ListRunningWithoutProgress 查询无进展的 RUNNING 实例
func (r *instanceRecordRepository) ListRunningWithoutProgress(age time.Duration, limit int) ([]*model.SubscriptionInstanceRecord, error) {
	var records []*model.SubscriptionInstanceRecord
	deadline := time.Now().Add(-age)
	err := r.db.Where("status = ? AND update_time < ?", "RUNNING", deadline).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询无进展实例失败", err)
	}
	return records, nil
}

// CountByTaskStatus 按状态统计任务下的实例数
func (r *instanceRecordRepository) CountByTaskStatus(taskID int64) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.Model(&model.SubscriptionInstanceRecord{}).
		Select("status, COUNT(*) AS count").
		Where("task_id = ?", taskID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "统计实例状态失败", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, item := range rows {
		counts[item.Status] = item.Count
	}
	return counts, nil
}
