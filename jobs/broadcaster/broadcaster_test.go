package broadcaster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballast/infra/outbox"
)

type fakePublisher struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]int
	closed bool
}

func (f *fakePublisher) Publish(_ context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[string(key)] > 0 {
		f.failOn[string(key)]--
		return errors.New("broker down")
	}
	f.sent = append(f.sent, string(key)+"="+string(value))
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func openOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	o, err := outbox.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestDrainPublishesAndDeletes(t *testing.T) {
	o := openOutbox(t)
	require.NoError(t, o.PutNew(1, []byte("a")))
	require.NoError(t, o.PutNew(2, []byte("b")))

	pub := &fakePublisher{}
	b := New(o, pub, Config{}, nil)

	n, err := b.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1=a", "2=b"}, pub.published())

	_, err = o.Get(1)
	require.ErrorIs(t, err, outbox.ErrNotFound)
}

func TestDrainKeepAcked(t *testing.T) {
	o := openOutbox(t)
	require.NoError(t, o.PutNew(1, []byte("a")))

	b := New(o, &fakePublisher{}, Config{KeepAcked: true}, nil)
	_, err := b.Drain(context.Background())
	require.NoError(t, err)

	rec, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateAcked, rec.State)
}

func TestDrainFailureBumpsRetries(t *testing.T) {
	o := openOutbox(t)
	require.NoError(t, o.PutNew(1, []byte("a")))

	pub := &fakePublisher{failOn: map[string]int{"1": 2}}
	b := New(o, pub, Config{}, nil)

	for want := uint32(1); want <= 2; want++ {
		n, err := b.Drain(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		rec, err := o.Get(1)
		require.NoError(t, err)
		assert.Equal(t, outbox.StateFailed, rec.State)
		assert.Equal(t, want, rec.Retries)
	}

	n, err := b.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"1=a"}, pub.published())
}

func TestDrainGivesUpAfterMaxRetries(t *testing.T) {
	o := openOutbox(t)
	require.NoError(t, o.PutNew(1, []byte("a")))

	pub := &fakePublisher{failOn: map[string]int{"1": 100}}
	b := New(o, pub, Config{MaxRetries: 2}, nil)

	for i := 0; i < 5; i++ {
		_, err := b.Drain(context.Background())
		require.NoError(t, err)
	}
	rec, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.Retries)
}

func TestDrainResendsInterruptedRecords(t *testing.T) {
	o := openOutbox(t)
	require.NoError(t, o.PutNew(4, []byte("d")))
	require.NoError(t, o.UpdateState(4, outbox.StateSent, 0))

	pub := &fakePublisher{}
	n, err := New(o, pub, Config{}, nil).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"4=d"}, pub.published())
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	o := openOutbox(t)
	pub := &fakePublisher{}
	b := New(o, pub, Config{Interval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	require.NoError(t, o.PutNew(1, []byte("late")))
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, o.PutNew(2, []byte("last")))
	cancel()
	<-done
	assert.Equal(t, []string{"1=late", "2=last"}, pub.published())

	require.NoError(t, b.Close())
	assert.True(t, pub.closed)
}

func TestSaramaPublisher(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewSaramaPublisherFrom(sp, "ballast.events")
	require.NoError(t, pub.Publish(context.Background(), []byte("1"), []byte("{}")))
	require.ErrorIs(t, pub.Publish(context.Background(), []byte("2"), []byte("{}")), sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}
