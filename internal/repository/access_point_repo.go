package repository

import (
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// AccessPointRepository 接入点仓储接口
type AccessPointRepository interface {
	FindByID(id int64) (*model.AccessPoint, error)
	FindDefault() (*model.AccessPoint, error)
	List() ([]*model.AccessPoint, error)
	Save(ap *model.AccessPoint) error
}

type accessPointRepository struct {
	db *gorm.DB
}

// NewAccessPointRepository 创建接入点仓储实例
func NewAccessPointRepository(db *gorm.DB) AccessPointRepository {
	return &accessPointRepository{db: db}
}

// FindByID 根据ID查询接入点
func (r *accessPointRepository) FindByID(id int64) (*model.AccessPoint, error) {
	var ap model.AccessPoint
	err := r.db.First(&ap, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrApNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询接入点失败", err)
	}
	return &ap, nil
}

// FindDefault 查询默认接入点，每套部署有且仅有一个
func (r *accessPointRepository) FindDefault() (*model.AccessPoint, error) {
	var ap model.AccessPoint
	err := r.db.Where("is_default = ?", true).First(&ap).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrApNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询默认接入点失败", err)
	}
	return &ap, nil
}

// List 查询全部接入点
func (r *accessPointRepository) List() ([]*model.AccessPoint, error) {
	var aps []*model.AccessPoint
	if err := r.db.Order("id").Find(&aps).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询接入点列表失败", err)
	}
	return aps, nil
}

// Save 保存接入点
func (r *accessPointRepository) Save(ap *model.AccessPoint) error {
	if err := r.db.Save(ap).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "保存接入点失败", err)
	}
	return nil
}

// InstallChannelRepository 安装通道仓储接口
type InstallChannelRepository interface {
	FindByID(id int64) (*model.InstallChannel, error)
	ListByCloudID(bkCloudID int64) ([]*model.InstallChannel, error)
	Save(channel *model.InstallChannel) error
}

type installChannelRepository struct {
	db *gorm.DB
}

// NewInstallChannelRepository 创建安装通道仓储实例
func NewInstallChannelRepository(db *gorm.DB) InstallChannelRepository {
	return &installChannelRepository{db: db}
}

// FindByID 根据ID查询安装通道
func (r *installChannelRepository) FindByID(id int64) (*model.InstallChannel, error) {
	var channel model.InstallChannel
	err := r.db.First(&channel, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrInstallChannelMissing
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询安装通道失败", err)
	}
	return &channel, nil
}

// ListByCloudID 查询管控区域下的安装通道
func (r *installChannelRepository) ListByCloudID(bkCloudID int64) ([]*model.InstallChannel, error) {
	var channels []*model.InstallChannel
	err := r.db.Where("bk_cloud_id = ?", bkCloudID).Order("id").Find(&channels).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询安装通道列表失败", err)
	}
	return channels, nil
}

// Save 保存安装通道
func (r *installChannelRepository) Save(channel *model.InstallChannel) error {
	if err := r.db.Save(channel).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "保存安装通道失败", err)
	}
	return nil
}

// GlobalSettingsRepository 全局配置仓储接口
type GlobalSettingsRepository interface {
	// GetJSON 读取配置并解析到 out，键不存在时返回 found=false
	GetJSON(key string, out interface{}) (bool, error)
	Set(key string, value []byte) error
}

type globalSettingsRepository struct {
	db *gorm.DB
}

// NewGlobalSettingsRepository 创建全局配置仓储实例
func NewGlobalSettingsRepository(db *gorm.DB) GlobalSettingsRepository {
	return &globalSettingsRepository{db: db}
}

// GetJSON 读取配置
func (r *globalSettingsRepository) GetJSON(key string, out interface{}) (bool, error) {
	var settings model.GlobalSettings
	err := r.db.First(&settings, "`key` = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询全局配置失败", err)
	}
	if err := settings.UnmarshalInto(out); err != nil {
		return true, pkgErrors.Wrap(pkgErrors.CodeValidationError, "解析全局配置失败", err)
	}
	return true, nil
}

// Set 写入配置
func (r *globalSettingsRepository) Set(key string, value []byte) error {
	settings := model.GlobalSettings{Key: key, VJson: value}
	if err := r.db.Save(&settings).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "保存全局配置失败", err)
	}
	return nil
}
