package data

import (
	"time"

	"gorm.io/gorm"
)

// EntityRecord is the lifetime of one replicated entity.
type EntityRecord struct {
	ID          uint64 `gorm:"primaryKey"`
	ServerName  string `gorm:"index:idx_server_entity; not null"`
	NetEntityID int32  `gorm:"index:idx_server_entity"`
	Prefab      string
	Owner       int16
	SpawnedAt   time.Time
	DestroyedAt *time.Time
}

func CreateEntityRecord(db *gorm.DB, record *EntityRecord) error {
	return db.Create(record).Error
}

// MarkEntityDestroyed stamps the live record of netEntityID on serverName.
func MarkEntityDestroyed(db *gorm.DB, serverName string, netEntityID int32, at time.Time) error {
	return db.Model(&EntityRecord{}).
		Where("server_name = ? AND net_entity_id = ? AND destroyed_at IS NULL", serverName, netEntityID).
		Update("destroyed_at", at).Error
}

// FindLiveEntities returns the records of serverName that were never destroyed.
func FindLiveEntities(db *gorm.DB, serverName string) ([]EntityRecord, error) {
	var records []EntityRecord
	err := db.Where("server_name = ? AND destroyed_at IS NULL", serverName).
		Order("net_entity_id").
		Find(&records).Error
	return records, err
}
