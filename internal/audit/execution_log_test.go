package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]domain.ExecutionRecord
	err     error
}

func (m *memStorage) WriteExecutions(_ context.Context, records []domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, append([]domain.ExecutionRecord(nil), records...))
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestExecutionLogFlushesOnStop(t *testing.T) {
	repo := &memStorage{}
	l := NewExecutionLog(repo, Config{FlushInterval: time.Hour}, nil, zap.NewNop())
	l.Start()

	l.Record(domain.ExecutionRecord{Device: "r1"}, domain.ExecutionRecord{Device: "r2"})
	l.Stop()

	assert.Equal(t, 2, repo.total())
	repo.mu.Lock()
	assert.False(t, repo.batches[0][0].Timestamp.IsZero())
	repo.mu.Unlock()

	// после остановки записи отбрасываются, повторный Stop безопасен
	l.Record(domain.ExecutionRecord{Device: "r3"})
	l.Stop()
	assert.Equal(t, 2, repo.total())
}

func TestExecutionLogBatchesBySize(t *testing.T) {
	repo := &memStorage{}
	l := NewExecutionLog(repo, Config{BatchSize: 2, FlushInterval: time.Hour}, nil, zap.NewNop())
	l.Start()
	defer l.Stop()

	l.Record(domain.ExecutionRecord{Device: "a"}, domain.ExecutionRecord{Device: "b"}, domain.ExecutionRecord{Device: "c"})
	assert.Eventually(t, func() bool { return repo.total() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestExecutionLogDropsOnOverflow(t *testing.T) {
	repo := &memStorage{err: errors.New("db down")}
	l := NewExecutionLog(repo, Config{BufferSize: 1}, nil, zap.NewNop())

	// воркер не запущен: второй элемент не помещается в буфер
	l.Record(domain.ExecutionRecord{Device: "a"}, domain.ExecutionRecord{Device: "b"})
	assert.Len(t, l.ch, 1)
}
