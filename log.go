package vref

import "go.uber.org/zap"

// logger is the Space-wide structured logger, always non-nil (defaulted to
// zap.NewNop in resolveConfig so call sites never need a nil check).
type logger struct {
	z *zap.Logger
}

func newLogger(z *zap.Logger) *logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &logger{z: z}
}

func (l *logger) writerBatch(puts, txCommits, rootChanges, reclaimed int) {
	l.z.Debug("writer batch committed",
		zap.Int("puts", puts),
		zap.Int("tx_commits", txCommits),
		zap.Int("root_changes", rootChanges),
		zap.Int("reclaimed", reclaimed),
	)
}

func (l *logger) cacheSweep(visited, evicted int, totalWeight uint64) {
	l.z.Debug("cache sweep",
		zap.Int("visited", visited),
		zap.Int("evicted", evicted),
		zap.Uint64("total_weight", totalWeight),
	)
}

func (l *logger) gcRequeue(addr Address) {
	l.z.Debug("gc requeue: address still pinned in-process", zap.Uint64("address", uint64(addr)))
}

func (l *logger) lockContention(path string) {
	l.z.Warn("space lock contended", zap.String("path", path))
}

func (l *logger) error(op string, err error) {
	l.z.Error("vref error", zap.String("op", op), zap.Error(err))
}
