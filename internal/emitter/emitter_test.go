package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wisefido-liveness/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type write struct {
	at   time.Time
	kind models.HeartbeatKind
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []write
	calls  int
	err    error
}

func (w *recordingWriter) UpdateHeartbeat(_ context.Context, _ string, at time.Time, kind models.HeartbeatKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, write{at: at, kind: kind})
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEmitter(t *testing.T, w HeartbeatWriter, clock *fakeClock) *HeartbeatEmitter {
	t.Helper()
	e, err := NewHeartbeatEmitter("subject-1", w, Options{
		MinRefreshInterval:   15 * time.Minute,
		LongSilenceThreshold: 8 * time.Hour,
		Clock:                clock.Now,
	}, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestNewHeartbeatEmitter_EmptySubject(t *testing.T) {
	_, err := NewHeartbeatEmitter("", &recordingWriter{}, Options{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrEmptySubjectID)
}

func TestRecordActivity_FirstWriteThenBatching(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)}
	w := &recordingWriter{}
	e := newTestEmitter(t, w, clock)

	d, err := e.RecordActivity(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, d.Write)
	assert.Equal(t, models.HeartbeatFirstContact, d.Kind)

	clock.Advance(5 * time.Minute)
	d, err = e.RecordActivity(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, d.Write)

	clock.Advance(10 * time.Minute)
	d, err = e.RecordActivity(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, d.Write)
	assert.Equal(t, models.HeartbeatPeriodic, d.Kind)

	assert.Len(t, w.writes, 2)
	assert.Equal(t, Stats{Writes: 2, Deferred: 1}, e.Stats())
}

func TestRecordActivity_ForceAlwaysWrites(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	w := &recordingWriter{}
	e := newTestEmitter(t, w, clock)

	for i := 0; i < 3; i++ {
		d, err := e.RecordActivity(context.Background(), true)
		require.NoError(t, err)
		assert.True(t, d.Write)
		clock.Advance(time.Second)
	}
	assert.Len(t, w.writes, 3)
	assert.Equal(t, models.HeartbeatFirstContact, w.writes[0].kind)
	assert.Equal(t, models.HeartbeatPeriodic, w.writes[1].kind)
}

func TestRecordActivity_LongSilenceIsResumed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	w := &recordingWriter{}
	e := newTestEmitter(t, w, clock)

	_, err := e.RecordActivity(context.Background(), false)
	require.NoError(t, err)

	clock.Advance(9 * time.Hour)
	d, err := e.RecordActivity(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, d.Write)
	assert.Equal(t, models.HeartbeatResumed, d.Kind)
}

func TestRecordActivity_FailureNotRetriedUntilRefreshInterval(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	w := &recordingWriter{err: errors.New("store unavailable")}
	e := newTestEmitter(t, w, clock)

	d, err := e.RecordActivity(context.Background(), false)
	assert.Error(t, err)
	assert.True(t, d.Write)

	clock.Advance(time.Minute)
	d, err = e.RecordActivity(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, d.Write)

	w.err = nil
	clock.Advance(14 * time.Minute)
	d, err = e.RecordActivity(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, d.Write)
	// 此前从未成功写入
	assert.Equal(t, models.HeartbeatFirstContact, d.Kind)
	assert.Equal(t, Stats{Writes: 1, Failures: 1, Deferred: 1}, e.Stats())
}

// 长时间中断后存储仍不可用：Resumed 的重试也按 minRefresh 限流
func TestRecordActivity_ResumedRetryBoundedByRefreshInterval(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	w := &recordingWriter{}
	e := newTestEmitter(t, w, clock)

	_, err := e.RecordActivity(context.Background(), false)
	require.NoError(t, err)

	w.err = errors.New("store unavailable")
	clock.Advance(9 * time.Hour)
	for i := 0; i < 10; i++ {
		_, _ = e.RecordActivity(context.Background(), false)
		clock.Advance(time.Minute)
	}
	assert.Equal(t, 2, w.calls)

	// 距上次尝试满 minRefresh 后再试一次，仍为 Resumed
	w.err = nil
	clock.Advance(5 * time.Minute)
	d, err := e.RecordActivity(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, d.Write)
	assert.Equal(t, models.HeartbeatResumed, d.Kind)
	assert.Equal(t, 3, w.calls)
}

// 活动间隔小于 minRefresh 时，两次成功写入的间隔不超过 minRefresh + 活动间隔，
// 且与 quiet hours 是否开启无关（emitter 不读取 quiet hours）。
func TestRecordActivity_FreshnessBoundUnderFrequentActivity(t *testing.T) {
	intervals := []time.Duration{30 * time.Second, 2 * time.Minute, 7 * time.Minute, 14*time.Minute + 59*time.Second}
	for _, interval := range intervals {
		t.Run(interval.String(), func(t *testing.T) {
			// 21:00 开始，跨越 22:00-06:00 的夜间时段
			clock := &fakeClock{now: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)}
			w := &recordingWriter{}
			e := newTestEmitter(t, w, clock)

			end := clock.now.Add(10 * time.Hour)
			for clock.now.Before(end) {
				_, err := e.RecordActivity(context.Background(), false)
				require.NoError(t, err)
				clock.Advance(interval)
			}

			require.NotEmpty(t, w.writes)
			for i := 1; i < len(w.writes); i++ {
				gap := w.writes[i].at.Sub(w.writes[i-1].at)
				assert.LessOrEqual(t, gap, 15*time.Minute+interval)
				assert.Less(t, gap, 8*time.Hour)
			}
			// 06:58 之后仍有写入
			last := w.writes[len(w.writes)-1].at
			assert.True(t, !last.Before(end.Add(-15*time.Minute-interval)))
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := &recordingWriter{}
	e, err := NewHeartbeatEmitter("subject-1", w, Options{MinRefreshInterval: time.Nanosecond}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return e.Stats().Writes >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload []byte) error {
	p.topic, p.qos, p.payload = topic, qos, payload
	return nil
}

func TestMQTTHeartbeatWriter(t *testing.T) {
	pub := &fakePublisher{}
	w := NewMQTTHeartbeatWriter(pub, "liveness/%s/heartbeat", 1)
	at := time.Date(2026, 3, 2, 6, 58, 0, 0, time.UTC)

	require.NoError(t, w.UpdateHeartbeat(context.Background(), "subject-1", at, models.HeartbeatResumed))

	assert.Equal(t, "liveness/subject-1/heartbeat", pub.topic)
	assert.Equal(t, byte(1), pub.qos)
	var p models.HeartbeatPayload
	require.NoError(t, json.Unmarshal(pub.payload, &p))
	assert.Equal(t, at.Unix(), p.Timestamp)
	assert.Equal(t, "resumed", p.Kind)
}

func TestHTTPHeartbeatWriter(t *testing.T) {
	var got models.HeartbeatPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HeartbeatPath, r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.SubjectID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":-1,"message":"subject not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":2000,"message":"ok"}`))
	}))
	defer server.Close()

	w := NewHTTPHeartbeatWriter(server.URL, time.Second)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	require.NoError(t, w.UpdateHeartbeat(context.Background(), "subject-1", at, models.HeartbeatPeriodic))
	assert.Equal(t, "subject-1", got.SubjectID)
	assert.Equal(t, at.Unix(), got.Timestamp)

	err := w.UpdateHeartbeat(context.Background(), "missing", at, models.HeartbeatPeriodic)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "subject not found")
}
