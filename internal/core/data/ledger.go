package data

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Ledger writes session and entity events to the database from its own
// goroutine so that the tick loop never waits on a query. Events that do not
// fit in the buffer are dropped. A nil *Ledger records nothing.
type Ledger struct {
	db         *gorm.DB
	logger     *logrus.Logger
	serverName string

	mu     sync.Mutex
	closed bool
	events chan func(*gorm.DB) error
	done   chan struct{}
}

func NewLedger(db *gorm.DB, logger *logrus.Logger, serverName string, buffer int) *Ledger {
	l := &Ledger{
		db:         db,
		logger:     logger,
		serverName: serverName,
		events:     make(chan func(*gorm.DB) error, buffer),
		done:       make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Ledger) run() {
	defer close(l.done)
	for event := range l.events {
		if err := event(l.db); err != nil {
			l.logger.Warnf("[%s] error writing to ledger: %v", l.serverName, err)
		}
	}
}

func (l *Ledger) enqueue(event func(*gorm.DB) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- event:
	default:
		l.logger.Warnf("[%s] ledger buffer full, dropping event", l.serverName)
	}
}

// SessionAccepted records a new connection and returns the id of its session.
func (l *Ledger) SessionAccepted(connectionID int16, remoteAddr string) uuid.UUID {
	id := uuid.New()
	if l == nil {
		return id
	}
	session := &Session{
		ID:           id,
		ServerName:   l.serverName,
		ConnectionID: connectionID,
		RemoteAddr:   remoteAddr,
		AcceptedAt:   time.Now(),
	}
	l.enqueue(func(db *gorm.DB) error { return CreateSession(db, session) })
	return id
}

func (l *Ledger) SessionConnected(id uuid.UUID) {
	if l == nil {
		return
	}
	at := time.Now()
	l.enqueue(func(db *gorm.DB) error { return MarkSessionConnected(db, id, at) })
}

func (l *Ledger) SessionClosed(id uuid.UUID, reason string) {
	if l == nil {
		return
	}
	at := time.Now()
	l.enqueue(func(db *gorm.DB) error { return CloseSession(db, id, at, reason) })
}

func (l *Ledger) EntitySpawned(netEntityID int32, prefab string, owner int16) {
	if l == nil {
		return
	}
	record := &EntityRecord{
		ServerName:  l.serverName,
		NetEntityID: netEntityID,
		Prefab:      prefab,
		Owner:       owner,
		SpawnedAt:   time.Now(),
	}
	l.enqueue(func(db *gorm.DB) error { return CreateEntityRecord(db, record) })
}

func (l *Ledger) EntityDestroyed(netEntityID int32) {
	if l == nil {
		return
	}
	at := time.Now()
	l.enqueue(func(db *gorm.DB) error { return MarkEntityDestroyed(db, l.serverName, netEntityID, at) })
}

// Close stops accepting events and waits for the queued ones to be written.
func (l *Ledger) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()
	<-l.done
}
