package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubo-market/sensorwatch/internal/config"
)

type fetchResult struct {
	msg kafka.Message
	err error
}

// fakeReader replays results in order, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	results   []fetchResult
	committed []int64
	closed    bool
	drained   chan struct{}
}

func newFakeReader(results ...fetchResult) *fakeReader {
	return &fakeReader{results: results, drained: make(chan struct{})}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.results) > 0 {
		next := f.results[0]
		f.results = f.results[1:]
		f.mu.Unlock()
		return next.msg, next.err
	}
	select {
	case <-f.drained:
	default:
		close(f.drained)
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func runConsumer(t *testing.T, reader *fakeReader, svc Ingester) *test.Hook {
	t.Helper()
	logger, hook := test.NewNullLogger()
	c := NewKafkaConsumer(reader, svc, logger)
	c.minBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the reader")
	}
	cancel()
	<-done
	return hook
}

func TestKafkaConsumer_IngestsAndCommits(t *testing.T) {
	svc := &recordingIngester{}
	reader := newFakeReader(
		fetchResult{msg: kafka.Message{Offset: 1, Value: []byte(`{"sensor_id":"s1","timestamp":"2024-10-01T12:00:00Z","value":55}`)}},
		fetchResult{msg: kafka.Message{Offset: 2, Key: []byte("s2"), Value: []byte(`{"timestamp":"2024-10-01T12:05:00Z","value":80}`)}},
	)

	runConsumer(t, reader, svc)

	got := svc.got()
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].SensorID)
	assert.Equal(t, "s2", got[1].SensorID, "message key supplies the sensor id")
	assert.Equal(t, []int64{1, 2}, reader.committed)
	assert.True(t, reader.closed)
}

func TestKafkaConsumer_SkipsPoisonMessages(t *testing.T) {
	svc := &recordingIngester{}
	reader := newFakeReader(
		fetchResult{msg: kafka.Message{Offset: 1, Value: []byte(`garbage`)}},
		fetchResult{msg: kafka.Message{Offset: 2, Value: []byte(`{"sensor_id":"","timestamp":"2024-10-01T12:00:00Z","value":1}`)}},
		fetchResult{msg: kafka.Message{Offset: 3, Value: []byte(`{"sensor_id":"s1","timestamp":"2024-10-01T12:00:00Z","value":1}`)}},
	)

	hook := runConsumer(t, reader, svc)

	assert.Len(t, svc.got(), 1)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Message == "dropping undecodable reading" || e.Message == "reading rejected" {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestKafkaConsumer_RetriesFetchErrors(t *testing.T) {
	svc := &recordingIngester{}
	reader := newFakeReader(
		fetchResult{err: errors.New("broker unavailable")},
		fetchResult{err: errors.New("broker unavailable")},
		fetchResult{msg: kafka.Message{Offset: 7, Value: []byte(`{"sensor_id":"s1","timestamp":"2024-10-01T12:00:00Z","value":1}`)}},
	)

	runConsumer(t, reader, svc)

	assert.Len(t, svc.got(), 1)
	assert.Equal(t, []int64{7}, reader.committed)
}

func TestNewKafkaReader_Validation(t *testing.T) {
	_, err := NewKafkaReader(config.Kafka{Topic: "readings"})
	assert.Error(t, err)
	_, err = NewKafkaReader(config.Kafka{Brokers: []string{"localhost:9092"}, GroupID: "g"})
	assert.Error(t, err)
	_, err = NewKafkaReader(config.Kafka{Brokers: []string{"localhost:9092"}, Topic: "readings"})
	assert.Error(t, err)
}
