package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
)

func TestConsumerProcessesJobs(t *testing.T) {
	f := newFixture(t, happyDispatcher())
	consumer := NewConsumer(f.pipeline, ConsumerConfig{
		Workers:    2,
		QueueSize:  8,
		Retries:    3,
		RetryDelay: time.Millisecond,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, consumer.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = consumer.Stop(stopCtx)
	}()

	require.NoError(t, consumer.Enqueue(f.job))

	require.Eventually(t, func() bool {
		doc, err := f.documents.Get(context.Background(), f.job.DocumentID)
		return err == nil && doc.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumerRejectsWhenQueueFull(t *testing.T) {
	f := newFixture(t, happyDispatcher())
	consumer := NewConsumer(f.pipeline, ConsumerConfig{
		Workers:   1,
		QueueSize: 1,
	}, nil, nil)
	// Not started: the queue only drains with workers running.

	require.NoError(t, consumer.Enqueue(UploadedEvent{DocumentID: "a"}))
	err := consumer.Enqueue(UploadedEvent{DocumentID: "b"})
	require.Error(t, err)
	assert.Equal(t, core.KindRateLimit, core.KindOf(err))
}

func TestConsumerFailsDocumentAfterExhaustedRetries(t *testing.T) {
	d := happyDispatcher()
	d.classify = func() (*llm.ClassificationResult, error) {
		return nil, core.NewError(core.KindTimeout, "always times out", nil)
	}

	f := newFixture(t, d)
	consumer := NewConsumer(f.pipeline, ConsumerConfig{
		Workers:    1,
		QueueSize:  4,
		Retries:    2,
		RetryDelay: time.Millisecond,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, consumer.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = consumer.Stop(stopCtx)
	}()

	require.NoError(t, consumer.Enqueue(f.job))

	require.Eventually(t, func() bool {
		doc, err := f.documents.Get(context.Background(), f.job.DocumentID)
		return err == nil && doc.Status == core.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, f.dispatcher.callCount("classify"))
}
