package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendwell/notifyworker/internal/dispatch"
	"github.com/sendwell/notifyworker/internal/metrics"
	"github.com/sendwell/notifyworker/internal/notification"
	"github.com/sendwell/notifyworker/internal/retry"
)

// fakeDelivery records which terminal action the pipeline chose and
// carries the body/header that would have been redelivered, so a test
// can chain Process calls the way a real queue redelivery would.
type fakeDelivery struct {
	body        []byte
	retryHeader *int

	acked      bool
	deadLetter bool
	requeued   bool

	republished     bool
	republishedBody []byte
	republishDelay  time.Duration
	republishRetry  int
}

func newFakeDelivery(body []byte, retryHeader *int) *fakeDelivery {
	return &fakeDelivery{body: body, retryHeader: retryHeader}
}

func (d *fakeDelivery) Body() []byte             { return d.body }
func (d *fakeDelivery) HeaderRetryCount() *int   { return d.retryHeader }
func (d *fakeDelivery) Ack(ctx context.Context) error {
	d.acked = true
	return nil
}
func (d *fakeDelivery) DeadLetter(ctx context.Context) error {
	d.deadLetter = true
	return nil
}
func (d *fakeDelivery) Requeue(ctx context.Context) error {
	d.requeued = true
	return nil
}
func (d *fakeDelivery) RepublishWithDelay(ctx context.Context, body []byte, retryCount int, delay time.Duration) error {
	d.republished = true
	d.republishedBody = body
	d.republishDelay = delay
	d.republishRetry = retryCount
	d.acked = true
	return nil
}

// redeliver builds the fakeDelivery representing the next attempt after a
// republish, the way the broker would hand it back with x-retry-count set.
func (d *fakeDelivery) redeliver() *fakeDelivery {
	retryCount := d.republishRetry
	return newFakeDelivery(d.republishedBody, &retryCount)
}

// fakeStore is an in-memory idempotency.Store for tests.
type fakeStore struct {
	marked  map[string]bool
	seenErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{marked: make(map[string]bool)}
}

func (s *fakeStore) Seen(ctx context.Context, userID, idempotencyKey string) (bool, error) {
	if s.seenErr != nil {
		return false, s.seenErr
	}
	return s.marked[userID+":"+idempotencyKey], nil
}

func (s *fakeStore) Mark(ctx context.Context, userID, idempotencyKey string) error {
	s.marked[userID+":"+idempotencyKey] = true
	return nil
}

// scriptedDispatcher fails for the first failUntil calls, then succeeds.
type scriptedDispatcher struct {
	calls      int
	failUntil  int
	alwaysFail bool
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, payload map[string]interface{}) error {
	d.calls++
	if d.alwaysFail || d.calls <= d.failUntil {
		return dispatch.Transient("simulated failure", errors.New("boom"))
	}
	return nil
}

func s1Body() []byte {
	return []byte(`{"id":"a","type":"email","userId":"u1","idempotencyKey":"k1","payload":{"to":"x@y","subject":"s","body":"b"},"retryCount":0}`)
}

func newPipeline(store *fakeStore, registry dispatch.Registry) *Pipeline {
	return New(store, registry, retry.Default(), metrics.NewPipeline(), nil)
}

func TestPipeline_S1_HappyPath(t *testing.T) {
	d := &scriptedDispatcher{}
	store := newFakeStore()
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	delivery := newFakeDelivery(s1Body(), nil)
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.Equal(t, 1, d.calls)
	assert.True(t, store.marked["u1:k1"])
	assert.True(t, delivery.acked)
	assert.False(t, delivery.deadLetter)
	assert.False(t, delivery.republished)
}

func TestPipeline_S2_DuplicateSuppression(t *testing.T) {
	d := &scriptedDispatcher{}
	store := newFakeStore()
	store.marked["u1:k1"] = true
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	delivery := newFakeDelivery(s1Body(), nil)
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.Equal(t, 0, d.calls)
	assert.True(t, delivery.acked)
	assert.False(t, delivery.deadLetter)
}

func TestPipeline_S3_RetryThenSuccess(t *testing.T) {
	d := &scriptedDispatcher{failUntil: 2}
	store := newFakeStore()
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	delivery := newFakeDelivery(s1Body(), nil)
	require.NoError(t, p.Process(context.Background(), delivery))
	require.True(t, delivery.republished)
	assert.Equal(t, 1*time.Second, delivery.republishDelay)
	assert.Equal(t, 1, delivery.republishRetry)

	delivery = delivery.redeliver()
	require.NoError(t, p.Process(context.Background(), delivery))
	require.True(t, delivery.republished)
	assert.Equal(t, 2*time.Second, delivery.republishDelay)
	assert.Equal(t, 2, delivery.republishRetry)

	delivery = delivery.redeliver()
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.Equal(t, 3, d.calls)
	assert.True(t, delivery.acked)
	assert.False(t, delivery.republished)
	assert.True(t, store.marked["u1:k1"])
}

func TestPipeline_S4_RetriesExhaustedToDLQ(t *testing.T) {
	d := &scriptedDispatcher{alwaysFail: true}
	store := newFakeStore()
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	wantDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	delivery := newFakeDelivery(s1Body(), nil)
	for i, want := range wantDelays {
		require.NoError(t, p.Process(context.Background(), delivery))
		require.Truef(t, delivery.republished, "attempt %d should republish", i)
		assert.Equal(t, want, delivery.republishDelay)
		delivery = delivery.redeliver()
	}

	// Sixth and final attempt (retryCount=5): exhausted, dead-lettered.
	require.NoError(t, p.Process(context.Background(), delivery))
	assert.True(t, delivery.deadLetter)
	assert.False(t, delivery.republished)

	assert.Equal(t, 6, d.calls)
	assert.False(t, store.marked["u1:k1"])
}

func TestPipeline_S5_UnknownType(t *testing.T) {
	d := &scriptedDispatcher{}
	store := newFakeStore()
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	body := []byte(`{"id":"a","type":"fax","userId":"u1","idempotencyKey":"k1","payload":{}}`)
	delivery := newFakeDelivery(body, nil)
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.Equal(t, 0, d.calls)
	assert.True(t, delivery.deadLetter)
	assert.False(t, delivery.republished)
	assert.False(t, store.marked["u1:k1"])
}

func TestPipeline_S6_MalformedBody(t *testing.T) {
	d := &scriptedDispatcher{}
	store := newFakeStore()
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	delivery := newFakeDelivery([]byte("not-json"), nil)
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.Equal(t, 0, d.calls)
	assert.True(t, delivery.deadLetter)
}

func TestPipeline_IdempotencyStoreUnavailableRequeues(t *testing.T) {
	d := &scriptedDispatcher{}
	store := newFakeStore()
	store.seenErr = errors.New("redis unavailable")
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	delivery := newFakeDelivery(s1Body(), nil)
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.Equal(t, 0, d.calls)
	assert.True(t, delivery.requeued)
	assert.False(t, delivery.acked)
	assert.False(t, delivery.deadLetter)
}

func TestPipeline_HeaderRetryCountOverridesBody(t *testing.T) {
	d := &scriptedDispatcher{alwaysFail: true}
	store := newFakeStore()
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})

	headerRetry := 5
	delivery := newFakeDelivery(s1Body(), &headerRetry)
	require.NoError(t, p.Process(context.Background(), delivery))

	// Body says retryCount=0, but the header says 5 (exhausted) and must win.
	assert.True(t, delivery.deadLetter)
	assert.False(t, delivery.republished)
	assert.Equal(t, 1, d.calls)
}

func TestPipeline_MarkFailureStillAcks(t *testing.T) {
	d := &scriptedDispatcher{}
	failing := &failingMarkStore{fakeStore: newFakeStore()}
	p := newPipeline(failing.fakeStore, dispatch.Registry{notification.TypeEmail: d})
	p.Store = failing

	delivery := newFakeDelivery(s1Body(), nil)
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.True(t, delivery.acked)
	assert.Equal(t, int64(1), p.Metrics.MarkFailures.Load())
}

type failingMarkStore struct {
	*fakeStore
}

func (f *failingMarkStore) Mark(ctx context.Context, userID, idempotencyKey string) error {
	return errors.New("write failed")
}

type deadlineObservingDispatcher struct {
	sawDeadline bool
}

func (d *deadlineObservingDispatcher) Dispatch(ctx context.Context, payload map[string]interface{}) error {
	_, d.sawDeadline = ctx.Deadline()
	return nil
}

func TestPipeline_DispatchTimeoutAppliedToDispatcherContext(t *testing.T) {
	d := &deadlineObservingDispatcher{}
	store := newFakeStore()
	p := newPipeline(store, dispatch.Registry{notification.TypeEmail: d})
	p.DispatchTimeout = 50 * time.Millisecond

	delivery := newFakeDelivery(s1Body(), nil)
	require.NoError(t, p.Process(context.Background(), delivery))

	assert.True(t, d.sawDeadline)
}

func TestS1Body_IsValidJSON(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(s1Body(), &v))
}
