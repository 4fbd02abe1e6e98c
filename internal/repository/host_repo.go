package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/crypto"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// HostRepository 主机仓储接口
type HostRepository interface {
	FindByID(bkHostID int64) (*model.Host, error)
	FindByCloudInnerIP(bkCloudID int64, innerIP string) (*model.Host, error)
	ListByIDs(bkHostIDs []int64) ([]*model.Host, error)
	ListProxies(bkCloudID int64) ([]*model.Host, error)
	Save(host *model.Host) error
	UpdateVersion(bkHostID int64, version string) error
	SoftDelete(bkHostID int64) error
}

type hostRepository struct {
	db *gorm.DB
}

// NewHostRepository 创建主机仓储实例
func NewHostRepository(db *gorm.DB) HostRepository {
	return &hostRepository{db: db}
}

// FindByID 根据主机ID查询
func (r *hostRepository) FindByID(bkHostID int64) (*model.Host, error) {
	var host model.Host
	err := r.db.Where("is_deleted = ?", false).First(&host, "bk_host_id = ?", bkHostID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrHostNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询主机失败", err)
	}
	return &host, nil
}

// FindByCloudInnerIP 根据管控区域与内网IP查询，(cloud_id, inner_ip) 业务内唯一
func (r *hostRepository) FindByCloudInnerIP(bkCloudID int64, innerIP string) (*model.Host, error) {
	var host model.Host
	err := r.db.Where("bk_cloud_id = ? AND inner_ip = ? AND is_deleted = ?", bkCloudID, innerIP, false).
		First(&host).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrHostNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询主机失败", err)
	}
	return &host, nil
}

// ListByIDs 批量查询主机
func (r *hostRepository) ListByIDs(bkHostIDs []int64) ([]*model.Host, error) {
	var hosts []*model.Host
	if len(bkHostIDs) == 0 {
		return hosts, nil
	}
	err := r.db.Where("bk_host_id IN ? AND is_deleted = ?", bkHostIDs, false).Find(&hosts).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "批量查询主机失败", err)
	}
	return hosts, nil
}

// ListProxies 查询管控区域内的全部 Proxy
func (r *hostRepository) ListProxies(bkCloudID int64) ([]*model.Host, error) {
	var hosts []*model.Host
	err := r.db.Where("bk_cloud_id = ? AND node_type = ? AND is_deleted = ?",
		bkCloudID, constants.NodeTypeProxy, false).
		Order("bk_host_id").
		Find(&hosts).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询Proxy列表失败", err)
	}
	return hosts, nil
}

// Save 保存主机
func (r *hostRepository) Save(host *model.Host) error {
	if err := r.db.Save(host).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "保存主机失败", err)
	}
	return nil
}

// UpdateVersion 安装成功后回写 Agent 版本
func (r *hostRepository) UpdateVersion(bkHostID int64, version string) error {
	err := r.db.Model(&model.Host{}).
		Where("bk_host_id = ?", bkHostID).
		Update("version", version).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新Agent版本失败", err)
	}
	return nil
}

// SoftDelete CMDB 侧删除主机后打软删标记
func (r *hostRepository) SoftDelete(bkHostID int64) error {
	now := time.Now()
	err := r.db.Model(&model.Host{}).
		Where("bk_host_id = ?", bkHostID).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_time": &now}).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "删除主机失败", err)
	}
	return nil
}

// IdentityRepository 主机认证信息仓储接口
type IdentityRepository interface {
	FindByHostID(bkHostID int64) (*model.IdentityData, error)
	Save(identity *model.IdentityData) error
	// WipeExpired 清除超过保留期的认证资料，返回处理行数
	WipeExpired(limit int) (int64, error)
}

type identityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository 创建主机认证信息仓储实例
func NewIdentityRepository(db *gorm.DB) IdentityRepository {
	return &identityRepository{db: db}
}

// FindByHostID 根据主机ID查询认证信息，密码/密钥解密后返回
func (r *identityRepository) FindByHostID(bkHostID int64) (*model.IdentityData, error) {
	var identity model.IdentityData
	err := r.db.First(&identity, "bk_host_id = ?", bkHostID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询认证信息失败", err)
	}
	if identity.Password != "" {
		if identity.Password, err = crypto.Decrypt(identity.Password); err != nil {
			return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "解密主机密码失败", err)
		}
	}
	if identity.Key != "" {
		if identity.Key, err = crypto.Decrypt(identity.Key); err != nil {
			return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "解密主机密钥失败", err)
		}
	}
	return &identity, nil
}

// Save 保存认证信息，密码/密钥加密落库，不修改调用方持有的明文
func (r *identityRepository) Save(identity *model.IdentityData) error {
	row := *identity
	var err error
	if row.Password != "" {
		if row.Password, err = crypto.Encrypt(row.Password); err != nil {
			return pkgErrors.Wrap(pkgErrors.CodeInternalError, "加密主机密码失败", err)
		}
	}
	if row.Key != "" {
		if row.Key, err = crypto.Encrypt(row.Key); err != nil {
			return pkgErrors.Wrap(pkgErrors.CodeInternalError, "加密主机密钥失败", err)
		}
	}
	if err := r.db.Save(&row).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "保存认证信息失败", err)
	}
	return nil
}

// WipeExpired 清除超过保留期的密码与密钥，保留账号与端口
func (r *identityRepository) WipeExpired(limit int) (int64, error) {
	result := r.db.Model(&model.IdentityData{}).
		Where("(password <> '' OR `key` <> '')").
		Where("updated_at < DATE_SUB(NOW(), INTERVAL retention SECOND)").
		Limit(limit).
		Updates(map[string]interface{}{"password": "", "key": ""})
	if result.Error != nil {
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "清理过期认证信息失败", result.Error)
	}
	return result.RowsAffected, nil
}
