package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/internal/repository"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// trackPointItem точка трека с привязкой к сессии для очереди записи
type trackPointItem struct {
	sessionID string
	sample    models.Sample
}

// HistoryWriter асинхронный writer истории в MySQL: итоги сессий пишутся
// сразу, точки треков копятся и сбрасываются батчами.
type HistoryWriter struct {
	history repository.HistoryRepository
	logger  *utils.Logger
	config  *HistoryWriterConfig

	summaryChan chan *models.SessionSummary
	pointChan   chan trackPointItem

	// Буфер точек, сгруппированных по сессии
	pointBuffer map[string][]models.Sample
	buffered    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// HistoryWriterConfig конфигурация writer'а истории
type HistoryWriterConfig struct {
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	ChannelBuffer int           `json:"channel_buffer"`
	MaxRetries    int           `json:"max_retries"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// DefaultHistoryWriterConfig возвращает конфигурацию по умолчанию
func DefaultHistoryWriterConfig() *HistoryWriterConfig {
	return &HistoryWriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		ChannelBuffer: 10000,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// NewHistoryWriter создает и запускает writer истории
func NewHistoryWriter(history repository.HistoryRepository, logger *utils.Logger, config *HistoryWriterConfig) *HistoryWriter {
	if config == nil {
		config = DefaultHistoryWriterConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	hw := &HistoryWriter{
		history:     history,
		logger:      logger,
		config:      config,
		summaryChan: make(chan *models.SessionSummary, config.ChannelBuffer),
		pointChan:   make(chan trackPointItem, config.ChannelBuffer),
		pointBuffer: make(map[string][]models.Sample),
		ctx:         ctx,
		cancel:      cancel,
	}

	hw.wg.Add(2)
	go hw.summaryWorker()
	go hw.pointWorker()

	logger.WithFields(map[string]interface{}{
		"batch_size":     config.BatchSize,
		"flush_interval": config.FlushInterval.String(),
	}).Info("Started MySQL history writer")

	return hw
}

// QueueSummary ставит итог сессии в очередь на запись
func (hw *HistoryWriter) QueueSummary(summary *models.SessionSummary) error {
	select {
	case hw.summaryChan <- summary:
		metrics.MySQLQueueSize.WithLabelValues("sessions").Set(float64(len(hw.summaryChan)))
		return nil
	case <-hw.ctx.Done():
		return fmt.Errorf("history writer is shutting down")
	default:
		metrics.MySQLWriteErrors.WithLabelValues("sessions").Inc()
		return fmt.Errorf("summary queue is full")
	}
}

// QueueTrackPoint ставит точку трека в очередь на запись
func (hw *HistoryWriter) QueueTrackPoint(sessionID string, sample models.Sample) error {
	select {
	case hw.pointChan <- trackPointItem{sessionID: sessionID, sample: sample}:
		metrics.MySQLQueueSize.WithLabelValues("track_points").Set(float64(len(hw.pointChan)))
		return nil
	case <-hw.ctx.Done():
		return fmt.Errorf("history writer is shutting down")
	default:
		metrics.MySQLWriteErrors.WithLabelValues("track_points").Inc()
		return fmt.Errorf("track point queue is full")
	}
}

// Shutdown останавливает writer, дожидаясь сброса буферов
func (hw *HistoryWriter) Shutdown() {
	hw.cancel()
	hw.wg.Wait()
	hw.logger.Info("MySQL history writer stopped")
}

// summaryWorker пишет итоги сессий с ретраями
func (hw *HistoryWriter) summaryWorker() {
	defer hw.wg.Done()

	for {
		select {
		case summary := <-hw.summaryChan:
			hw.writeSummary(summary)

		case <-hw.ctx.Done():
			// Дочитываем очередь перед выходом
			for {
				select {
				case summary := <-hw.summaryChan:
					hw.writeSummary(summary)
				default:
					return
				}
			}
		}
	}
}

// pointWorker копит точки и сбрасывает батчами по размеру или таймеру
func (hw *HistoryWriter) pointWorker() {
	defer hw.wg.Done()

	ticker := time.NewTicker(hw.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case item := <-hw.pointChan:
			hw.pointBuffer[item.sessionID] = append(hw.pointBuffer[item.sessionID], item.sample)
			hw.buffered++
			if hw.buffered >= hw.config.BatchSize {
				hw.flushPoints()
			}

		case <-ticker.C:
			if hw.buffered > 0 {
				hw.flushPoints()
			}

		case <-hw.ctx.Done():
			// Финальный сброс при завершении
			for {
				select {
				case item := <-hw.pointChan:
					hw.pointBuffer[item.sessionID] = append(hw.pointBuffer[item.sessionID], item.sample)
					hw.buffered++
				default:
					if hw.buffered > 0 {
						hw.flushPoints()
					}
					return
				}
			}
		}
	}
}

// writeSummary сохраняет итог сессии с ограниченным числом повторов
func (hw *HistoryWriter) writeSummary(summary *models.SessionSummary) {
	var err error
	for attempt := 0; attempt <= hw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(hw.config.RetryDelay)
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = hw.history.SaveSessionSummary(ctx, summary)
		cancel()

		if err == nil {
			metrics.MySQLBatchDuration.WithLabelValues("sessions").Observe(time.Since(start).Seconds())
			return
		}
	}

	metrics.MySQLWriteErrors.WithLabelValues("sessions").Inc()
	hw.logger.WithFields(map[string]interface{}{
		"session_id": summary.SessionID,
		"error":      err,
	}).Error("Failed to save session summary after retries")
}

// flushPoints сбрасывает накопленные точки по сессиям
func (hw *HistoryWriter) flushPoints() {
	start := time.Now()
	flushed := 0

	for sessionID, points := range hw.pointBuffer {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := hw.history.SaveTrackPointsBatch(ctx, sessionID, points)
		cancel()

		if err != nil {
			metrics.MySQLWriteErrors.WithLabelValues("track_points").Inc()
			hw.logger.WithFields(map[string]interface{}{
				"session_id": sessionID,
				"points":     len(points),
				"error":      err,
			}).Error("Failed to flush track points batch")
			continue
		}
		metrics.MySQLBatchSize.WithLabelValues("track_points").Observe(float64(len(points)))
		flushed += len(points)
	}
	metrics.MySQLBatchDuration.WithLabelValues("track_points").Observe(time.Since(start).Seconds())

	hw.pointBuffer = make(map[string][]models.Sample)
	hw.buffered = 0

	if flushed > 0 {
		hw.logger.WithFields(map[string]interface{}{
			"points":      flushed,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Flushed track points to MySQL")
	}
}
