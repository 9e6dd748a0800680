package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysync/rnr/internal/catalog"
	"github.com/polysync/rnr/internal/config"
	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/replay"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/testutil"
)

func newController(t *testing.T, mutate func(*Options)) (*Controller, string) {
	t.Helper()
	dir := t.TempDir()

	opts := DefaultOptions()
	opts.Replay.Speed = 0
	opts.ResolvePath = func(p string) (string, error) {
		if filepath.IsAbs(p) {
			return p, nil
		}
		return filepath.Join(dir, p), nil
	}
	if mutate != nil {
		mutate(&opts)
	}

	c := NewController(opts)
	t.Cleanup(func() {
		_ = c.Close(context.Background()) // Ignore close errors in tests
	})
	return c, dir
}

func TestController_SetStateBeforeSetMode(t *testing.T) {
	c, _ := newController(t, nil)

	err := c.SetState(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))
	assert.Equal(t, "set_state", rnrerr.OpOf(err))
	assert.False(t, c.Status().ModeSet)
}

func TestController_SetStateWhileOffIsNoop(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SetMode(ctx, ModeOff, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))

	st := c.Status()
	assert.Equal(t, ModeOff, st.State.Mode)
	assert.False(t, st.State.Enabled)
	assert.True(t, st.ModeSet)
}

func TestController_DirectTransitionsRejected(t *testing.T) {
	tests := []struct {
		from, to Mode
	}{
		{ModeWrite, ModeReplay},
		{ModeReplay, ModeWrite},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			c, _ := newController(t, nil)
			ctx := context.Background()
			id := uuid.New()

			require.NoError(t, c.SetMode(ctx, tt.from, id))
			err := c.SetMode(ctx, tt.to, uuid.New())
			require.Error(t, err)
			assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))

			var te InvalidTransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.From)

			st := c.Status()
			assert.Equal(t, tt.from, st.State.Mode, "pre-transition mode is kept")
			assert.Equal(t, id, st.State.SessionID)

			require.NoError(t, c.SetMode(ctx, ModeOff, InvalidSessionID))
			require.NoError(t, c.SetMode(ctx, tt.to, uuid.New()))
		})
	}
}

func TestController_SetModeAssignsSessionID(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	id := c.Status().State.SessionID
	assert.NotEqual(t, InvalidSessionID, id)

	// same mode again keeps the id
	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	assert.Equal(t, id, c.Status().State.SessionID)

	require.NoError(t, c.SetMode(ctx, ModeOff, uuid.New()))
	assert.Equal(t, InvalidSessionID, c.Status().State.SessionID)
}

func TestController_InvalidMode(t *testing.T) {
	c, _ := newController(t, nil)
	err := c.SetMode(context.Background(), Mode("pause"), InvalidSessionID)
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"off", ModeOff, true},
		{"WRITE", ModeWrite, true},
		{"record", ModeWrite, true},
		{" replay ", ModeReplay, true},
		{"", "", false},
		{"stream", "", false},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestController_EnableWithoutFilePath(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	err := c.SetState(ctx, true)
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))
	assert.False(t, c.Status().State.Enabled)
}

func TestController_FilePathConfinedToSessionDir(t *testing.T) {
	root := t.TempDir()
	sessions := filepath.Join(root, "sessions")
	require.NoError(t, os.MkdirAll(sessions, 0o755))
	victim := filepath.Join(root, "victim.conf")
	require.NoError(t, os.WriteFile(victim, []byte("important=1\n"), 0o644))

	cfg := &config.Config{Storage: config.StorageConfig{SessionDir: sessions}}
	c, _ := newController(t, func(o *Options) {
		o.ResolvePath = cfg.ResolveLogPath
	})
	ctx := context.Background()

	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	for _, path := range []string{"../victim.conf", "../../victim.conf", victim} {
		err := c.SetFilePath(ctx, path)
		require.Error(t, err, path)
		assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))
		assert.Equal(t, "set_file_path", rnrerr.OpOf(err))
	}
	assert.Empty(t, c.Status().State.FilePath)

	err := c.SetState(ctx, true)
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))
	require.NoError(t, c.SetMode(ctx, ModeOff, InvalidSessionID))

	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "important=1\n", string(data))

	// paths inside the session directory still work
	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	require.NoError(t, c.SetFilePath(ctx, "run.rnr"))
	require.NoError(t, c.SetState(ctx, true))
	require.NoError(t, c.SetMode(ctx, ModeOff, InvalidSessionID))
	testutil.AssertFileExists(t, filepath.Join(sessions, "run.rnr"))
}

func TestController_ReplayMissingFileKeepsMode(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SetFilePath(ctx, "absent.rnr"))
	require.NoError(t, c.SetMode(ctx, ModeReplay, InvalidSessionID))
	err := c.SetState(ctx, true)
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindNotFound, rnrerr.KindOf(err))

	st := c.Status()
	assert.Equal(t, ModeReplay, st.State.Mode)
	assert.False(t, st.State.Enabled)
}

func TestController_Record(t *testing.T) {
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	defer cat.Close()

	c, dir := newController(t, func(o *Options) { o.Catalog = cat })
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, c.SetFilePath(ctx, "run.rnr"))
	require.NoError(t, c.SetTypeFilters(ctx, nil, []msgtype.Type{msgtype.GPS}))
	require.NoError(t, c.SetMode(ctx, ModeWrite, id))
	require.NoError(t, c.SetState(ctx, true))
	assert.True(t, c.Status().State.Enabled)

	for _, m := range testutil.Messages(3, 100, 10) {
		require.NoError(t, c.Publish(ctx, m))
	}
	require.NoError(t, c.Publish(ctx, msgtype.Message{Type: msgtype.GPS, Timestamp: 200, Payload: []byte("fix")}))

	err = c.SetFilePath(ctx, "other.rnr")
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err), "file path is locked while enabled")

	require.NoError(t, c.SetMode(ctx, ModeOff, InvalidSessionID))

	reader := testutil.OpenLogFile(t, filepath.Join(dir, "run.rnr"))
	attrs := reader.Attributes()
	assert.Equal(t, uint64(3), attrs.DataCount)
	assert.Equal(t, logfile.SessionTag(id), attrs.SessionTag)

	entry, err := cat.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "write", entry.Mode)
	assert.Equal(t, catalog.StatusStopped, entry.Status)
	assert.Equal(t, uint64(3), entry.Records)
	assert.NotNil(t, entry.StoppedAt)

	sessions, err := c.Sessions(ctx, catalog.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestController_PublishRequiresWrite(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	err := c.Publish(ctx, msgtype.Message{Type: msgtype.ByteArray, Payload: []byte("x")})
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))

	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	err = c.Publish(ctx, msgtype.Message{Type: msgtype.ByteArray, Payload: []byte("x")})
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err), "mode set but not enabled")
}

func TestController_DisableKeepsMode(t *testing.T) {
	c, dir := newController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SetFilePath(ctx, filepath.Join(dir, "a.rnr")))
	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))
	require.NoError(t, c.Publish(ctx, msgtype.Message{Type: msgtype.IMU, Timestamp: 1, Payload: []byte("a")}))
	require.NoError(t, c.SetState(ctx, false))

	st := c.Status()
	assert.Equal(t, ModeWrite, st.State.Mode)
	assert.False(t, st.State.Enabled)
	assert.Nil(t, st.Recorder)

	testutil.AssertFileExists(t, filepath.Join(dir, "a.rnr"))
}

func TestController_ReplayQueue(t *testing.T) {
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	defer cat.Close()

	c, dir := newController(t, func(o *Options) { o.Catalog = cat })
	ctx := context.Background()
	testutil.WriteLogFile(t, filepath.Join(dir, "in.rnr"), testutil.Messages(3, 0, 1000))

	consumer, err := c.QueueConsumer()
	require.NoError(t, err)
	defer consumer.Release()

	_, err = c.QueueConsumer()
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))

	id := uuid.New()
	require.NoError(t, c.SetFilePath(ctx, "in.rnr"))
	require.NoError(t, c.SetMode(ctx, ModeReplay, id))
	require.NoError(t, c.SetState(ctx, true))
	require.NoError(t, c.WaitReplay(ctx))

	for i := 0; i < 3; i++ {
		msg, ok := consumer.PopTimeout(time.Second)
		require.True(t, ok)
		assert.Equal(t, uint64(i*1000), msg.Timestamp)
	}
	_, ok := consumer.TryPop()
	assert.False(t, ok)

	// completion leaves the node in replay, disabled
	require.Eventually(t, func() bool { return !c.Status().State.Enabled }, time.Second, 5*time.Millisecond)
	st := c.Status()
	assert.Equal(t, ModeReplay, st.State.Mode)
	require.NotNil(t, st.Replay)
	assert.Equal(t, replay.StatusCompleted, st.Replay.Status)
	assert.Equal(t, uint64(3), st.Replay.Delivered)

	require.Eventually(t, func() bool {
		e, err := cat.Get(ctx, id)
		return err == nil && e.Status == catalog.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	// the file can be replayed again
	require.NoError(t, c.SetState(ctx, true))
	require.NoError(t, c.WaitReplay(ctx))
	assert.Eventually(t, func() bool { return consumer.Len() == 3 }, time.Second, 5*time.Millisecond)
}

func TestController_ReplaySubscriberWithFilters(t *testing.T) {
	c, dir := newController(t, func(o *Options) { o.Delivery = replay.DeliverySubscriber })
	ctx := context.Background()

	path := filepath.Join(dir, "mixed.rnr")
	testutil.WriteLogFile(t, path, []msgtype.Message{
		{Type: msgtype.GPS, Timestamp: 1, Payload: []byte("g1")},
		{Type: msgtype.IMU, Timestamp: 2, Payload: []byte("i1")},
		{Type: msgtype.GPS, Timestamp: 3, Payload: []byte("g2")},
	})

	var mu sync.Mutex
	var got []string
	c.Listeners().SubscribeAll(func(m msgtype.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(m.Payload))
	})

	err := c.SetTypeFilters(ctx, []msgtype.Type{msgtype.GPS}, []msgtype.Type{msgtype.GPS})
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindConfig, rnrerr.KindOf(err))

	require.NoError(t, c.SetTypeFilters(ctx, nil, []msgtype.Type{msgtype.IMU}))
	require.NoError(t, c.SetFilePath(ctx, path))
	require.NoError(t, c.SetMode(ctx, ModeReplay, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))
	require.NoError(t, c.WaitReplay(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"g1", "g2"}, got)
}

func TestController_ReplayStartTime(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1000, 0))
	c, dir := newController(t, func(o *Options) {
		o.Replay.Clock = clock
		o.Replay.Speed = 1
	})
	ctx := context.Background()
	testutil.WriteLogFile(t, filepath.Join(dir, "t.rnr"), testutil.Messages(2, 0, 1000))

	require.NoError(t, c.SetStartTime(ctx, 250_000, false))
	require.NoError(t, c.SetFilePath(ctx, "t.rnr"))
	require.NoError(t, c.SetMode(ctx, ModeReplay, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))
	require.NoError(t, c.WaitReplay(ctx))

	sleeps := clock.Sleeps()
	require.NotEmpty(t, sleeps)
	assert.Equal(t, 250*time.Millisecond, sleeps[0])
}

func TestController_StopDrainsReplay(t *testing.T) {
	c, dir := newController(t, func(o *Options) { o.Replay.Speed = 1 })
	ctx := context.Background()
	// one record now, the next an hour later
	testutil.WriteLogFile(t, filepath.Join(dir, "slow.rnr"), testutil.Messages(2, 0, uint64(time.Hour/time.Microsecond)))

	consumer, err := c.QueueConsumer()
	require.NoError(t, err)
	defer consumer.Release()

	require.NoError(t, c.SetFilePath(ctx, "slow.rnr"))
	require.NoError(t, c.SetMode(ctx, ModeReplay, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))

	_, ok := consumer.PopTimeout(time.Second)
	require.True(t, ok)

	start := time.Now()
	require.NoError(t, c.SetMode(ctx, ModeOff, InvalidSessionID))
	assert.Less(t, time.Since(start), time.Second)

	st := c.Status()
	assert.Equal(t, ModeOff, st.State.Mode)
	assert.Nil(t, st.Replay)
}

func TestController_ReplayFailureForcesOff(t *testing.T) {
	c, dir := newController(t, nil)
	ctx := context.Background()

	path := filepath.Join(dir, "corrupt.rnr")
	testutil.WriteLogFile(t, path, testutil.Messages(3, 0, 1))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	firstLen := int64(logfile.RecordHeaderSize + len("msg-0") + logfile.ChecksumSize)
	_, err = f.WriteAt([]byte{'X'}, logfile.HeaderSize+firstLen+logfile.RecordHeaderSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, c.SetFilePath(ctx, path))
	require.NoError(t, c.SetMode(ctx, ModeReplay, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))

	require.Eventually(t, func() bool { return c.Status().State.Mode == ModeOff }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, c.Status().PendingError)

	// the next control call reports the failure once
	err = c.SetFilePath(ctx, "next.rnr")
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindFormat, rnrerr.KindOf(err))
	var bg BackgroundError
	require.ErrorAs(t, err, &bg)
	assert.Equal(t, ModeReplay, bg.Mode)

	assert.Empty(t, c.Status().PendingError)
	require.NoError(t, c.SetFilePath(ctx, "next.rnr"))
}

func TestController_RecorderFailureForcesOff(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SetFilePath(ctx, "big.rnr"))
	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))

	huge := make([]byte, logfile.MaxPayloadSize+1)
	require.NoError(t, c.Publish(ctx, msgtype.Message{Type: msgtype.ImageData, Timestamp: 1, Payload: huge}))

	require.Eventually(t, func() bool { return c.Status().State.Mode == ModeOff }, time.Second, 5*time.Millisecond)

	err := c.SetState(ctx, true)
	require.Error(t, err)
	assert.Equal(t, rnrerr.KindMemory, rnrerr.KindOf(err))

	// the node is usable again after the report
	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
}

func TestController_Close(t *testing.T) {
	c, _ := newController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SetFilePath(ctx, "c.rnr"))
	require.NoError(t, c.SetMode(ctx, ModeWrite, InvalidSessionID))
	require.NoError(t, c.SetState(ctx, true))
	require.NoError(t, c.Publish(ctx, msgtype.Message{Type: msgtype.CANFrame, Timestamp: 5, Payload: []byte{1, 2}}))

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	err := c.SetMode(ctx, ModeWrite, InvalidSessionID)
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))
	err = c.Publish(ctx, msgtype.Message{Type: msgtype.CANFrame, Timestamp: 6})
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))
	assert.Equal(t, ModeOff, c.Status().State.Mode)
}
