package data

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is one client connection as seen by a server.
type Session struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	ServerName       string    `gorm:"index; not null"`
	ConnectionID     int16
	RemoteAddr       string
	AcceptedAt       time.Time
	ConnectedAt      *time.Time
	DisconnectedAt   *time.Time
	DisconnectReason string
}

func CreateSession(db *gorm.DB, session *Session) error {
	return db.Create(session).Error
}

// MarkSessionConnected records the completion of the handshake.
func MarkSessionConnected(db *gorm.DB, id uuid.UUID, at time.Time) error {
	return db.Model(&Session{}).Where("id = ?", id).Update("connected_at", at).Error
}

func CloseSession(db *gorm.DB, id uuid.UUID, at time.Time, reason string) error {
	return db.Model(&Session{}).Where("id = ?", id).Updates(map[string]interface{}{
		"disconnected_at":   at,
		"disconnect_reason": reason,
	}).Error
}

// FindRecentSessions returns up to limit sessions, newest first.
func FindRecentSessions(db *gorm.DB, limit int) ([]Session, error) {
	var sessions []Session
	err := db.Order("accepted_at desc").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// FindOpenSessions returns the sessions of serverName that never recorded a disconnect.
func FindOpenSessions(db *gorm.DB, serverName string) ([]Session, error) {
	var sessions []Session
	err := db.Where("server_name = ? AND disconnected_at IS NULL", serverName).
		Order("accepted_at").
		Find(&sessions).Error
	return sessions, err
}
