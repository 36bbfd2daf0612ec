// internal/storage/models/base.go
package models

import "time"

// BaseModel is used instead of gorm.Model to keep soft deletes out.
type BaseModel struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}
