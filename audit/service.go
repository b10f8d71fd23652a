package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nisekogame/backend/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID    string
	Action     string
	Subject    string
	Request    interface{}
	Outcome    string
	Error      string
	IP         string
	DurationMs int
}

// Options tunes batching. Zero values fall back to defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Service logs audit entries asynchronously in batches. Writes never block
// the request that produced them.
type Service struct {
	db        *gorm.DB
	ch        chan *model.AuditLog
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	svc := &Service{
		db:        db,
		ch:        make(chan *model.AuditLog, opts.QueueSize),
		stopCh:    make(chan struct{}),
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		logger:    logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write. A nil Service is a no-op.
func (svc *Service) Log(entry Entry) {
	if svc == nil {
		return
	}
	reqJSON, err := json.Marshal(entry.Request)
	if err != nil {
		reqJSON = []byte("null")
	}
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		Action:     entry.Action,
		Subject:    entry.Subject,
		Request:    datatypes.JSON(reqJSON),
		Outcome:    entry.Outcome,
		Error:      entry.Error,
		IP:         entry.IP,
		DurationMs: entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	if svc == nil {
		return
	}
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, svc.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed",
				zap.Int("entries", len(batch)),
				zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= svc.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
