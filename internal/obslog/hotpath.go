package obslog

import "go.uber.org/zap"

// HotPathLogger is a zap logger for the TimeoutManager retry loop and the
// Dispatcher's assignment/heartbeat path, where logrus's map-allocating
// WithFields would add measurable overhead per tick.
type HotPathLogger struct {
	z *zap.Logger
}

// NewHotPath builds a production or development zap logger depending on dev.
func NewHotPath(dev bool) *HotPathLogger {
	var z *zap.Logger
	if dev {
		z, _ = zap.NewDevelopment()
	} else {
		z, _ = zap.NewProduction()
	}
	if z == nil {
		z = zap.NewNop()
	}
	return &HotPathLogger{z: z}
}

func (h *HotPathLogger) RetryAttempt(op string, attempt int, delayMS int64) {
	h.z.Debug("retry attempt",
		zap.String("op", op),
		zap.Int("attempt", attempt),
		zap.Int64("delay_ms", delayMS),
	)
}

func (h *HotPathLogger) Assigned(taskID, workerID string) {
	h.z.Info("task assigned", zap.String("task_id", taskID), zap.String("worker_id", workerID))
}

func (h *HotPathLogger) HeartbeatMissed(workerID string, taskID string) {
	h.z.Warn("heartbeat missed", zap.String("worker_id", workerID), zap.String("task_id", taskID))
}

func (h *HotPathLogger) Sync() {
	_ = h.z.Sync()
}
