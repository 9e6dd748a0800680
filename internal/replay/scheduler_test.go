package replay

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/testutil"
)

// collector records dispatched messages from the scheduler goroutine
type collector struct {
	mu   sync.Mutex
	msgs []msgtype.Message
	at   []time.Time
	now  func() time.Time
}

func (c *collector) handle(m msgtype.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	c.at = append(c.at, c.now())
}

func (c *collector) timestamps() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Timestamp
	}
	return out
}

func fixture(t *testing.T, msgs []msgtype.Message) *logfile.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.rnr")
	testutil.WriteLogFile(t, path, msgs)
	return testutil.OpenLogFile(t, path)
}

func gapsFixture(t *testing.T, gaps ...uint64) *logfile.Reader {
	t.Helper()
	msgs := make([]msgtype.Message, len(gaps))
	for i, ts := range gaps {
		msgs[i] = msgtype.Message{Type: msgtype.ByteArray, Timestamp: ts, Payload: []byte{byte(i)}}
	}
	return fixture(t, msgs)
}

func waitDone(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestScheduler_ReconstructsTiming(t *testing.T) {
	reader := gapsFixture(t, 5_000_000, 6_000_000, 8_000_000)
	clock := testutil.NewFakeClock(time.Unix(1000, 0))
	listeners := NewListeners()
	got := &collector{now: clock.Now}
	listeners.SubscribeAll(got.handle)

	s := NewScheduler(reader, listeners, nil, Options{Speed: 1, Clock: clock})
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(500*time.Millisecond)))
	waitDone(t, s)

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 0, time.Second, 2 * time.Second}, clock.Sleeps())
	assert.Equal(t, []uint64{5_000_000, 6_000_000, 8_000_000}, got.timestamps())

	base := time.Unix(1000, 0).Add(500 * time.Millisecond)
	assert.Equal(t, []time.Time{base, base.Add(time.Second), base.Add(3 * time.Second)}, got.at)

	p := s.Progress()
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, uint64(3), p.Delivered)
	assert.Equal(t, uint64(3), p.Index)
	assert.Equal(t, uint64(3), p.Total)
	assert.Equal(t, time.Duration(0), p.Lag)
	assert.NotNil(t, p.CompletedAt)
}

func TestScheduler_Speed(t *testing.T) {
	tests := []struct {
		name   string
		speed  float64
		sleeps []time.Duration
	}{
		{"double", 2, []time.Duration{0, 0, 500 * time.Millisecond, time.Second}},
		{"as fast as possible", 0, []time.Duration{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := gapsFixture(t, 0, 1_000_000, 3_000_000)
			clock := testutil.NewFakeClock(time.Unix(0, 0))
			s := NewScheduler(reader, NewListeners(), nil, Options{Speed: tt.speed, Clock: clock})
			require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
			require.NoError(t, s.Start(context.Background(), StartAfter(0)))
			waitDone(t, s)
			assert.Equal(t, tt.sleeps, clock.Sleeps())
		})
	}
}

func TestScheduler_RealClockTiming(t *testing.T) {
	reader := gapsFixture(t, 0, 100_000, 300_000)
	listeners := NewListeners()
	got := &collector{now: time.Now}
	listeners.SubscribeAll(got.handle)

	s := NewScheduler(reader, listeners, nil, DefaultOptions())
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	start := time.Now()
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))
	waitDone(t, s)

	require.Len(t, got.at, 3)
	for i, want := range []time.Duration{0, 100 * time.Millisecond, 300 * time.Millisecond} {
		elapsed := got.at[i].Sub(start)
		assert.InDelta(t, float64(want), float64(elapsed), float64(40*time.Millisecond), "record %d", i)
	}
}

func TestScheduler_AbsoluteStartInPastStartsImmediately(t *testing.T) {
	reader := gapsFixture(t, 10, 20)
	clock := testutil.NewFakeClock(time.Unix(5000, 0))
	s := NewScheduler(reader, NewListeners(), nil, Options{Speed: 1, Clock: clock})
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAt(time.Unix(4000, 0))))
	waitDone(t, s)

	sleeps := clock.Sleeps()
	require.NotEmpty(t, sleeps)
	assert.Equal(t, time.Duration(0), sleeps[0])
}

func TestStartReference_Delay(t *testing.T) {
	now := time.Unix(100, 0)
	assert.Equal(t, 2*time.Second, StartAfter(2*time.Second).Delay(now))
	assert.Equal(t, time.Duration(0), StartAfter(-time.Second).Delay(now))
	assert.Equal(t, 3*time.Second, StartAt(now.Add(3*time.Second)).Delay(now))
	assert.Equal(t, time.Duration(0), StartAt(now.Add(-3*time.Second)).Delay(now))

	abs := StartFromMicros(uint64(now.Add(time.Second).UnixMicro()), true)
	assert.True(t, abs.Absolute)
	assert.Equal(t, time.Second, abs.Delay(now))
	assert.Equal(t, 1500*time.Millisecond, StartFromMicros(1_500_000, false).Delay(now))
}

func TestScheduler_Filters(t *testing.T) {
	reader := fixture(t, []msgtype.Message{
		{Type: msgtype.GPS, Timestamp: 1},
		{Type: msgtype.CANFrame, Timestamp: 2},
		{Type: msgtype.GPS, Timestamp: 3},
		{Type: msgtype.IMU, Timestamp: 4},
	})
	listeners := NewListeners()
	var gps []uint64
	listeners.Subscribe(msgtype.GPS, func(m msgtype.Message) { gps = append(gps, m.Timestamp) })

	var suppressed []msgtype.Type
	opts := Options{Clock: testutil.NewFakeClock(time.Unix(0, 0)), Hooks: Hooks{
		OnSuppress: func(m msgtype.Message) { suppressed = append(suppressed, m.Type) },
	}}
	s := NewScheduler(reader, listeners, nil, opts)
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{Include: []msgtype.Type{msgtype.GPS}}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))
	waitDone(t, s)

	assert.Equal(t, []uint64{1, 3}, gps)
	assert.Equal(t, []msgtype.Type{msgtype.CANFrame, msgtype.IMU}, suppressed)
	p := s.Progress()
	assert.Equal(t, uint64(2), p.Delivered)
	assert.Equal(t, uint64(2), p.Suppressed)
	assert.Equal(t, uint64(4), p.Index)
}

func TestScheduler_ConfigureErrors(t *testing.T) {
	reader := gapsFixture(t, 1)

	s := NewScheduler(reader, nil, nil, DefaultOptions())
	err := s.Configure(DeliverySubscriber, msgtype.Filter{})
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))
	err = s.Configure(DeliveryQueue, msgtype.Filter{})
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))
	err = s.Configure("carrier", msgtype.Filter{})
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))

	s = NewScheduler(reader, NewListeners(), nil, DefaultOptions())
	err = s.Configure(DeliverySubscriber, msgtype.Filter{
		Include: []msgtype.Type{msgtype.IMU},
		Exclude: []msgtype.Type{msgtype.IMU},
	})
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))
}

func TestScheduler_StartErrors(t *testing.T) {
	reader := gapsFixture(t, 1)
	clock := testutil.NewFakeClock(time.Unix(0, 0))

	s := NewScheduler(reader, NewListeners(), nil, Options{Clock: clock})
	err := s.Start(context.Background(), StartAfter(0))
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))

	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))
	err = s.Start(context.Background(), StartAfter(0))
	var state InvalidStateError
	assert.ErrorAs(t, err, &state)
	waitDone(t, s)

	s = NewScheduler(reader, NewListeners(), nil, Options{Speed: -1})
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	err = s.Start(context.Background(), StartAfter(0))
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))

	s = NewScheduler(reader, NewListeners(), nil, Options{StartIndex: 5})
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	err = s.Start(context.Background(), StartAfter(0))
	assert.Equal(t, rnrerr.KindOutOfRange, rnrerr.KindOf(err))
}

func TestScheduler_StartTimestamp(t *testing.T) {
	reader := gapsFixture(t, 100, 200, 300, 400)
	listeners := NewListeners()
	got := &collector{now: time.Now}
	listeners.SubscribeAll(got.handle)

	clock := testutil.NewFakeClock(time.Unix(0, 0))
	s := NewScheduler(reader, listeners, nil, Options{Speed: 1, Clock: clock, StartTimestamp: 250})
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))
	waitDone(t, s)

	assert.Equal(t, []uint64{300, 400}, got.timestamps())
	assert.Equal(t, []time.Duration{0, 0, 100 * time.Microsecond}, clock.Sleeps())
}

func TestScheduler_QueueBackpressure(t *testing.T) {
	msgs := testutil.Messages(20, 0, 1)
	reader := fixture(t, msgs)
	q := NewQueue(2)
	consumer, err := q.Consumer()
	require.NoError(t, err)

	s := NewScheduler(reader, nil, q, Options{})
	require.NoError(t, s.Configure(DeliveryQueue, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))

	var got []string
	for len(got) < len(msgs) {
		m, ok := consumer.PopTimeout(2 * time.Second)
		require.True(t, ok, "queue starved after %d messages", len(got))
		assert.LessOrEqual(t, consumer.Len(), 2)
		got = append(got, string(m.Payload))
		time.Sleep(time.Millisecond)
	}
	waitDone(t, s)

	for i, m := range msgs {
		assert.Equal(t, string(m.Payload), got[i])
	}
	assert.Equal(t, uint64(20), s.Progress().Delivered)
}

func TestScheduler_StopInterruptsWait(t *testing.T) {
	reader := gapsFixture(t, 0, 60_000_000, 120_000_000)
	listeners := NewListeners()
	got := &collector{now: time.Now}
	listeners.SubscribeAll(got.handle)

	finished := make(chan Status, 1)
	opts := DefaultOptions()
	opts.Hooks.OnFinish = func(status Status, err error) { finished <- status }

	s := NewScheduler(reader, listeners, nil, opts)
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))

	require.Eventually(t, func() bool { return s.Progress().Delivered == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, s.Stop())

	assert.Equal(t, StatusStopped, s.Status())
	assert.Equal(t, StatusStopped, <-finished)
	assert.NoError(t, s.Err())
	assert.Equal(t, []uint64{0}, got.timestamps())
}

func TestScheduler_StopWaitsForInFlightHandler(t *testing.T) {
	reader := gapsFixture(t, 0, 60_000_000)
	listeners := NewListeners()
	entered := make(chan struct{})
	var completed bool
	listeners.SubscribeAll(func(msgtype.Message) {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		completed = true
	})

	s := NewScheduler(reader, listeners, nil, DefaultOptions())
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))

	<-entered
	require.NoError(t, s.Stop())
	assert.True(t, completed)
	assert.Equal(t, uint64(1), s.Progress().Delivered)
}

func TestScheduler_CancelledContextEndsFullSpeedRun(t *testing.T) {
	reader := gapsFixture(t, 0, 0, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listeners := NewListeners()
	var delivered int
	listeners.SubscribeAll(func(msgtype.Message) {
		delivered++
		cancel()
	})

	opts := Options{Speed: 0, Clock: testutil.NewFakeClock(time.Unix(0, 0))}
	s := NewScheduler(reader, listeners, nil, opts)
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(ctx, StartAfter(0)))
	waitDone(t, s)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, StatusStopped, s.Status())
	assert.Equal(t, uint64(1), s.Progress().Delivered)
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	reader := gapsFixture(t, 1)
	s := NewScheduler(reader, NewListeners(), nil, DefaultOptions())
	require.NoError(t, s.Stop())
	assert.Equal(t, StatusStopped, s.Status())
	<-s.Done()

	err := s.Start(context.Background(), StartAfter(0))
	assert.Error(t, err)
}

func TestScheduler_EmptyFileCompletes(t *testing.T) {
	reader := fixture(t, nil)
	s := NewScheduler(reader, NewListeners(), nil, DefaultOptions())
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))
	waitDone(t, s)
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, uint64(0), s.Progress().Delivered)
}

func TestScheduler_ReadErrorEndsRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.rnr")
	testutil.WriteLogFile(t, path, testutil.Messages(3, 0, 1))

	// flip a payload byte of the second record so its checksum fails
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	firstLen := int64(logfile.RecordHeaderSize + len("msg-0") + logfile.ChecksumSize)
	_, err = f.WriteAt([]byte{'X'}, logfile.HeaderSize+firstLen+logfile.RecordHeaderSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reader := testutil.OpenLogFile(t, path)
	s := NewScheduler(reader, NewListeners(), nil, Options{})
	require.NoError(t, s.Configure(DeliverySubscriber, msgtype.Filter{}))
	require.NoError(t, s.Start(context.Background(), StartAfter(0)))

	<-s.Done()
	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, rnrerr.KindFormat, rnrerr.KindOf(s.Err()))
	assert.Equal(t, uint64(1), s.Progress().Delivered)
}
