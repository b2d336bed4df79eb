package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

const defaultAuditBuffer = 1024

// AuditFilter narrows List results. Zero fields match everything.
type AuditFilter struct {
	Type     string
	ClientID string
	Limit    int
}

// AuditService persists protocol events. Record satisfies auth.AuditSink:
// it never blocks, events are written by a background goroutine.
type AuditService interface {
	Record(event models.AuditEvent)
	List(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error)
	// Close flushes buffered events and stops the writer.
	Close()
}

type auditService struct {
	db      *gorm.DB
	events  chan models.AuditEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	log     logrus.FieldLogger
	dropped atomic.Int64
}

// NewAuditService starts the writer. buffer <= 0 uses the default size.
func NewAuditService(db *gorm.DB, buffer int, log logrus.FieldLogger) AuditService {
	if buffer <= 0 {
		buffer = defaultAuditBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &auditService{
		db:     db,
		events: make(chan models.AuditEvent, buffer),
		done:   make(chan struct{}),
		log:    log,
	}
	go s.write()
	return s
}

func (s *auditService) Record(event models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.log.WithFields(logrus.Fields{
			"type":      event.Type,
			"client_id": event.ClientID,
			"dropped":   s.dropped.Add(1),
		}).Warn("Audit buffer full, dropping event")
	}
}

func (s *auditService) write() {
	defer close(s.done)
	for event := range s.events {
		if err := s.db.Create(&event).Error; err != nil {
			s.log.WithError(err).WithField("type", event.Type).Error("Failed to persist audit event")
		}
	}
}

func (s *auditService) List(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	query := s.db.WithContext(ctx).Order("created_at desc")
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var events []models.AuditEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *auditService) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	<-s.done
}
