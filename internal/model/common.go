package model

import (
	"time"
)

// BaseModel 基础模型
type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// SoftDelete 软删除标记，删除仅打标不清数据
type SoftDelete struct {
	IsDeleted   bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedTime *time.Time `json:"deleted_time,omitempty"`
}
