package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentRecord OCR文档记录，创建后不再修改
type DocumentRecord struct {
	ID               string         `json:"id" gorm:"primaryKey;type:uuid"`
	FileID           string         `json:"file_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	OwnerID          string         `json:"owner_id" gorm:"type:varchar(255);not null;index:idx_documents_owner_created,priority:1"`
	OriginalFilename string         `json:"original_filename" gorm:"type:varchar(512);not null"`
	ContentType      string         `json:"content_type,omitempty" gorm:"type:varchar(255)"`
	SizeBytes        int64          `json:"size_bytes" gorm:"not null;default:0"`
	ExtractedText    string         `json:"extracted_text" gorm:"type:text;not null"`
	Metadata         datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"` // OCR策略、置信度等
	CreatedAt        time.Time      `json:"created_at" gorm:"not null;index:idx_documents_owner_created,priority:2"`
}

// TableName 指定表名，schema 由 search_path 决定
func (DocumentRecord) TableName() string {
	return "documents"
}

// BeforeCreate 未指定ID时生成uuid
func (d *DocumentRecord) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
