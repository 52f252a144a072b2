package hls

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavedeck/protocol"
)

// fakeEncoder 可控的编码进程替身
type fakeEncoder struct {
	spec     EncoderSpec
	startErr error
	duration float64
	done     chan error
	stopOnce sync.Once
}

func (f *fakeEncoder) Start() error { return f.startErr }

func (f *fakeEncoder) Stop() {
	f.stopOnce.Do(func() {
		select {
		case f.done <- nil:
		default:
		}
	})
}

func (f *fakeEncoder) Done() <-chan error { return f.done }
func (f *fakeEncoder) Duration() float64  { return f.duration }

// exit 模拟进程退出，nil表示自然播完
func (f *fakeEncoder) exit(err error) {
	f.done <- err
}

// fakeFactory 按启动顺序记录所有替身
type fakeFactory struct {
	mu       sync.Mutex
	encoders []*fakeEncoder
	startErr error
	duration float64
}

func (f *fakeFactory) new(spec EncoderSpec) Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()

	enc := &fakeEncoder{
		spec:     spec,
		startErr: f.startErr,
		duration: f.duration,
		done:     make(chan error, 1),
	}
	f.encoders = append(f.encoders, enc)
	return enc
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.encoders)
}

func (f *fakeFactory) at(i int) *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoders[i]
}

func newTestSupervisor(t *testing.T, poolSize, maxRestart int) (*Supervisor, *fakeFactory, *Pool) {
	t.Helper()

	factory := &fakeFactory{duration: 180}
	pool := NewPool(poolSize)
	sv := NewSupervisor(pool, factory.new, Options{
		TempDir:     t.TempDir(),
		BaseURL:     "/streams",
		Bitrate:     "192k",
		SegmentTime: "4",
		MaxRestart:  maxRestart,
	})
	return sv, factory, pool
}

func TestStartReturnsClientScopedLocator(t *testing.T) {
	sv, factory, pool := newTestSupervisor(t, 4, 0)

	locator, err := sv.Start("c1", "/music/a.mp3", 30)
	require.NoError(t, err)
	assert.Equal(t, "/streams/c1/playlist.m3u8?g=1", locator)
	assert.Equal(t, 1, pool.Active())

	spec := factory.at(0).spec
	assert.Equal(t, "c1", spec.ClientID)
	assert.Equal(t, "/music/a.mp3", spec.InputPath)
	assert.Equal(t, 30.0, spec.StartPosition)
	assert.Equal(t, uint64(1), spec.Generation)

	status := sv.Status("c1")
	assert.True(t, status.IsActive)
	assert.Equal(t, string(StateActive), status.State)
	assert.Equal(t, 180.0, status.Duration)

	url, ok := sv.URL("c1")
	require.True(t, ok)
	assert.Equal(t, locator, url)
}

func TestStartWhileActiveRejected(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, 4, 0)

	_, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	_, err = sv.Start("c1", "/music/b.mp3", 0)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeAlreadyActive))
}

func TestPoolSaturation(t *testing.T) {
	sv, _, pool := newTestSupervisor(t, 1, 0)

	_, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	// 第二个客户端无法获取槽位
	_, err = sv.Start("c2", "/music/b.mp3", 0)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeResourceExhausted))

	// c1 停止后槽位立刻可用
	sv.Stop("c1")
	assert.Equal(t, 0, pool.Active())

	_, err = sv.Start("c2", "/music/b.mp3", 0)
	assert.NoError(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	sv, _, pool := newTestSupervisor(t, 4, 0)

	_, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	sv.Stop("c1")
	sv.Stop("c1")
	sv.Stop("ghost") // 未知客户端同样是空操作

	assert.Equal(t, 0, pool.Active())
	assert.Equal(t, string(StateIdle), sv.Status("c1").State)

	_, ok := sv.URL("c1")
	assert.False(t, ok)
}

func TestNaturalExitReturnsToIdle(t *testing.T) {
	sv, factory, pool := newTestSupervisor(t, 4, 0)

	_, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	factory.at(0).exit(nil)

	assert.Eventually(t, func() bool {
		return sv.Status("c1").State == string(StateIdle)
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, pool.Active())

	// 播完后可以直接开新流
	_, err = sv.Start("c1", "/music/b.mp3", 0)
	assert.NoError(t, err)
}

func TestCrashTriggersBoundedRestart(t *testing.T) {
	sv, factory, pool := newTestSupervisor(t, 4, 1)

	var failedClient string
	var failedMsg string
	var mu sync.Mutex
	sv.SetErrorHandler(func(clientID, message string) {
		mu.Lock()
		defer mu.Unlock()
		failedClient = clientID
		failedMsg = message
	})

	_, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	// 第一次崩溃：自动重启，新一代编码进程
	factory.at(0).exit(errors.New("encoder crashed"))
	assert.Eventually(t, func() bool {
		return factory.count() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, string(StateActive), sv.Status("c1").State)
	assert.Equal(t, uint64(2), factory.at(1).spec.Generation)

	// 第二次崩溃：重启次数耗尽，进入Failed并释放槽位
	factory.at(1).exit(errors.New("encoder crashed again"))
	assert.Eventually(t, func() bool {
		return sv.Status("c1").State == string(StateFailed)
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, pool.Active())

	mu.Lock()
	assert.Equal(t, "c1", failedClient)
	assert.Contains(t, failedMsg, "encoder failed")
	mu.Unlock()

	// Failed之后允许重新启动
	_, err = sv.Start("c1", "/music/a.mp3", 0)
	assert.NoError(t, err)
	assert.Equal(t, 1, pool.Active())
}

func TestStartFailureReleasesSlot(t *testing.T) {
	factory := &fakeFactory{startErr: fmt.Errorf("no such file")}
	pool := NewPool(2)
	sv := NewSupervisor(pool, factory.new, Options{
		TempDir: t.TempDir(),
		BaseURL: "/streams",
	})

	_, err := sv.Start("c1", "/music/missing.mp3", 0)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeStreamFailed))
	assert.Equal(t, 0, pool.Active())

	// 失败不会卡住后续启动
	factory.startErr = nil
	_, err = sv.Start("c1", "/music/a.mp3", 0)
	assert.NoError(t, err)
}

func TestSeekBumpsGeneration(t *testing.T) {
	sv, factory, pool := newTestSupervisor(t, 4, 0)

	first, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	second, err := sv.Seek("c1", 60)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "/streams/c1/playlist.m3u8?g=2", second)

	// seek重启编码进程但不额外占用槽位
	assert.Equal(t, 1, pool.Active())
	require.Equal(t, 2, factory.count())
	assert.Equal(t, 60.0, factory.at(1).spec.StartPosition)
	assert.Equal(t, string(StateActive), sv.Status("c1").State)
}

func TestSeekClampsToDuration(t *testing.T) {
	sv, factory, _ := newTestSupervisor(t, 4, 0)

	_, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	_, err = sv.Seek("c1", 9999)
	require.NoError(t, err)
	assert.Equal(t, 180.0, factory.at(1).spec.StartPosition)

	_, err = sv.Seek("c1", -10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, factory.at(2).spec.StartPosition)
}

func TestSeekRequiresActiveStream(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, 4, 0)

	_, err := sv.Seek("c1", 10)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeNotActive))
}

func TestStatusForUnknownClient(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, 4, 0)

	status := sv.Status("ghost")
	assert.False(t, status.IsActive)
	assert.Equal(t, string(StateIdle), status.State)
}

func TestHandleDisconnectStopsAndForgets(t *testing.T) {
	sv, _, pool := newTestSupervisor(t, 4, 0)

	_, err := sv.Start("c1", "/music/a.mp3", 0)
	require.NoError(t, err)

	sv.HandleDisconnect("c1")

	assert.Equal(t, 0, pool.Active())
	assert.Equal(t, string(StateIdle), sv.Status("c1").State)

	// 断连清理是幂等的
	sv.HandleDisconnect("c1")
}
