package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// SubscriptionRepository 订阅仓储接口
type SubscriptionRepository interface {
	Create(subscription *model.Subscription, steps []*model.SubscriptionStep) error
	FindByID(id int64) (*model.Subscription, error)
	ListEnabled() ([]*model.Subscription, error)
	Update(subscription *model.Subscription) error
	UpdateSteps(subscriptionID int64, steps []*model.SubscriptionStep) error
	SoftDelete(id int64) error
}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建订阅仓储实例
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create 创建订阅及其步骤，同一事务落库
func (r *subscriptionRepository) Create(subscription *model.Subscription, steps []*model.SubscriptionStep) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(subscription).Error; err != nil {
			return err
		}
		for i, step := range steps {
			step.SubscriptionID = subscription.ID
			step.Index = i
		}
		if len(steps) > 0 {
			if err := tx.Create(steps).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建订阅失败", err)
	}
	return nil
}

// FindByID 查询订阅（含步骤，按 index 排序）
func (r *subscriptionRepository) FindByID(id int64) (*model.Subscription, error) {
	var subscription model.Subscription
	err := r.db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("`index`")
	}).Where("is_deleted = ?", false).First(&subscription, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrSubscriptionNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询订阅失败", err)
	}
	return &subscription, nil
}

// ListEnabled 查询全部启用的订阅
func (r *subscriptionRepository) ListEnabled() ([]*model.Subscription, error) {
	var subscriptions []*model.Subscription
	err := r.db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("`index`")
	}).Where("enable = ? AND is_deleted = ?", true, false).Find(&subscriptions).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询订阅列表失败", err)
	}
	return subscriptions, nil
}

// Update 更新订阅
func (r *subscriptionRepository) Update(subscription *model.Subscription) error {
	if err := r.db.Omit("Steps").Save(subscription).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新订阅失败", err)
	}
	return nil
}

// UpdateSteps 重建订阅步骤
func (r *subscriptionRepository) UpdateSteps(subscriptionID int64, steps []*model.SubscriptionStep) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", subscriptionID).
			Delete(&model.SubscriptionStep{}).Error; err != nil {
			return err
		}
		for i, step := range steps {
			step.ID = 0
			step.SubscriptionID = subscriptionID
			step.Index = i
		}
		if len(steps) > 0 {
			return tx.Create(steps).Error
		}
		return nil
	})
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新订阅步骤失败", err)
	}
	return nil
}

// SoftDelete 软删除订阅
func (r *subscriptionRepository) SoftDelete(id int64) error {
	now := time.Now()
	err := r.db.Model(&model.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_time": &now, "enable": false}).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "删除订阅失败", err)
	}
	return nil
}
