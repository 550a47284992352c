package dispatcher

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	side    int
	records []inference.Record
	err     error
	panics  bool
	delay   time.Duration
	block   chan struct{}

	calls    atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64
	lastBuf  atomic.Pointer[inference.Buffer]
}

func (f *fakeDetector) InputSize() int { return f.side }

func (f *fakeDetector) Detect(buf *inference.Buffer) ([]inference.Record, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.calls.Add(1)
	f.lastBuf.Store(buf)

	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("model exploded")
	}
	return f.records, f.err
}

func mustPlan(t *testing.T, w, h, side int) geometry.LetterboxPlan {
	t.Helper()
	plan, err := geometry.ComputeLetterboxPlan(w, h, side)
	require.NoError(t, err)
	return plan
}

func record(x, y, w, h any, label any, score any) inference.Record {
	r := inference.Record{}
	for k, v := range map[string]any{
		inference.FieldX: x, inference.FieldY: y, inference.FieldW: w,
		inference.FieldH: h, inference.FieldLabel: label, inference.FieldScore: score,
	} {
		if v != nil {
			r[k] = v
		}
	}
	return r
}

func TestDetectMapsThroughLetterbox(t *testing.T) {
	det := &fakeDetector{side: 416, records: []inference.Record{
		record(0.0, 0.0, 0.5, 1.0, "person", 0.9),
	}}
	d := New(det)
	defer d.Close()

	got, err := d.Detect(context.Background(), inference.NewBuffer(416, 416), mustPlan(t, 640, 480, 416))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "person#0", got[0].ID)
	assert.Equal(t, "person", got[0].Label)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.InDelta(t, 0.0, got[0].Box.X, 1e-9)
	assert.InDelta(t, 0.0, got[0].Box.Y, 1e-9)
	assert.InDelta(t, 0.5, got[0].Box.Width, 1e-9)
	assert.InDelta(t, 1.0, got[0].Box.Height, 1e-9)
}

func TestDetectDropsMalformedRecords(t *testing.T) {
	det := &fakeDetector{side: 416, records: []inference.Record{
		record(0.1, 0.1, 0.2, 0.2, "person", nil),
		record(0.1, 0.1, 0.2, 0.2, 7, 0.5),
		record(math.NaN(), 0.1, 0.2, 0.2, "dog", 0.5),
		record(0.1, 0.1, "wide", 0.2, "dog", 0.5),
		record(float32(0.25), 0, 1, int64(1), "cup", 0.4),
	}}
	d := New(det)
	defer d.Close()

	got, err := d.Detect(context.Background(), inference.NewBuffer(416, 416), mustPlan(t, 416, 416, 416))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cup#4", got[0].ID)
	assert.InDelta(t, 0.25, got[0].Box.X, 1e-9)
	assert.InDelta(t, 0.75, got[0].Box.Width, 1e-9)
}

func TestDetectClampsOutOfRangeBoxes(t *testing.T) {
	det := &fakeDetector{side: 416, records: []inference.Record{
		record(-0.5, 0.2, 3.0, 0.5, "car", 1.7),
	}}
	d := New(det)
	defer d.Close()

	got, err := d.Detect(context.Background(), inference.NewBuffer(416, 416), mustPlan(t, 416, 416, 416))
	require.NoError(t, err)
	require.Len(t, got, 1)

	box := got[0].Box
	assert.InDelta(t, 0.0, box.X, 1e-9)
	assert.InDelta(t, 0.2, box.Y, 1e-9)
	assert.InDelta(t, 1.0, box.Width, 1e-9)
	assert.InDelta(t, 0.5, box.Height, 1e-9)
	assert.Equal(t, float32(1), got[0].Score)
}

func TestDetectFailureIsScopedToCall(t *testing.T) {
	det := &fakeDetector{side: 416, err: errors.New("tensor shape mismatch")}
	d := New(det)
	defer d.Close()
	plan := mustPlan(t, 640, 480, 416)

	got, err := d.Detect(context.Background(), inference.NewBuffer(416, 416), plan)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, ErrDetectorFailure))
	assert.Contains(t, err.Error(), "tensor shape mismatch")

	det.err = nil
	det.records = []inference.Record{record(0.1, 0.1, 0.1, 0.1, "cat", 0.5)}
	got, err = d.Detect(context.Background(), inference.NewBuffer(416, 416), plan)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	stats := d.Stats()
	assert.Equal(t, int64(2), stats.Calls)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestDetectRecoversPanics(t *testing.T) {
	det := &fakeDetector{side: 416, panics: true}
	d := New(det)
	defer d.Close()

	_, err := d.Detect(context.Background(), inference.NewBuffer(416, 416), mustPlan(t, 640, 480, 416))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDetectorFailure))

	// The worker survives the panic.
	det.panics = false
	_, err = d.Detect(context.Background(), inference.NewBuffer(416, 416), mustPlan(t, 640, 480, 416))
	assert.NoError(t, err)
}

func TestDetectSerializesConcurrentCallers(t *testing.T) {
	det := &fakeDetector{side: 32, delay: 2 * time.Millisecond, records: []inference.Record{
		record(0.1, 0.1, 0.1, 0.1, "cat", 0.5),
	}}
	d := New(det, WithQueueDepth(2))
	defer d.Close()
	plan := mustPlan(t, 64, 48, 32)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := d.Detect(context.Background(), inference.NewBuffer(32, 32), plan)
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8), det.calls.Load())
	assert.Equal(t, int64(1), det.peak.Load())
}

func TestDetectRejectsWrongInput(t *testing.T) {
	d := New(&fakeDetector{side: 416})
	defer d.Close()

	_, err := d.Detect(context.Background(), inference.NewBuffer(300, 300), mustPlan(t, 640, 480, 416))
	assert.True(t, errors.Is(err, geometry.ErrInvalidGeometry))

	_, err = d.Detect(context.Background(), nil, mustPlan(t, 640, 480, 416))
	assert.True(t, errors.Is(err, geometry.ErrInvalidGeometry))

	_, err = d.Detect(context.Background(), inference.NewBuffer(416, 416), mustPlan(t, 640, 480, 320))
	assert.True(t, errors.Is(err, geometry.ErrInvalidGeometry))
}

func TestDetectContextAbandonsQueuedWait(t *testing.T) {
	det := &fakeDetector{side: 16, block: make(chan struct{})}
	d := New(det)
	defer d.Close()
	plan := mustPlan(t, 16, 16, 16)

	first := make(chan error, 1)
	go func() {
		_, err := d.Detect(context.Background(), inference.NewBuffer(16, 16), plan)
		first <- err
	}()
	require.Eventually(t, func() bool { return det.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Detect(ctx, inference.NewBuffer(16, 16), plan)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(det.block)
	assert.NoError(t, <-first)
}

func TestWarmupRunsOnZeroBuffer(t *testing.T) {
	det := &fakeDetector{side: 64}
	d := New(det)
	defer d.Close()

	require.NoError(t, d.Warmup(context.Background()))
	buf := det.lastBuf.Load()
	require.NotNil(t, buf)
	assert.Equal(t, 64, buf.Width)
	assert.Equal(t, 64, buf.Height)
	for _, p := range buf.Pix {
		if p != 0 {
			t.Fatal("warmup buffer is not zeroed")
		}
	}

	det.err = errors.New("no model")
	err := d.Warmup(context.Background())
	assert.True(t, errors.Is(err, ErrDetectorFailure))
}

func TestDetectAfterClose(t *testing.T) {
	d := New(&fakeDetector{side: 16})
	d.Close()
	d.Close()

	_, err := d.Detect(context.Background(), inference.NewBuffer(16, 16), mustPlan(t, 16, 16, 16))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestBufferedDetectAfterCloseDoesNotHang(t *testing.T) {
	buf := inference.NewBuffer(16, 16)
	plan := mustPlan(t, 16, 16, 16)

	for i := 0; i < 50; i++ {
		d := New(inference.NewStaticDetector(16), WithQueueDepth(2))
		d.Close()

		errs := make(chan error, 2)
		go func() {
			_, err := d.Detect(context.Background(), buf, plan)
			errs <- err
		}()
		go func() { errs <- d.Warmup(context.Background()) }()

		for n := 0; n < 2; n++ {
			select {
			case err := <-errs:
				assert.True(t, errors.Is(err, ErrClosed), "iteration %d: %v", i, err)
			case <-time.After(time.Second):
				t.Fatalf("iteration %d: call after Close did not return", i)
			}
		}
	}
}

func TestCloseFailsQueuedCalls(t *testing.T) {
	det := &fakeDetector{side: 16, block: make(chan struct{})}
	d := New(det, WithQueueDepth(4))
	buf := inference.NewBuffer(16, 16)
	plan := mustPlan(t, 16, 16, 16)

	first := make(chan error, 1)
	go func() {
		_, err := d.Detect(context.Background(), buf, plan)
		first <- err
	}()
	require.Eventually(t, func() bool { return det.calls.Load() == 1 }, time.Second, time.Millisecond)

	queued := make(chan error, 1)
	go func() {
		_, err := d.Detect(context.Background(), buf, plan)
		queued <- err
	}()
	require.Eventually(t, func() bool { return len(d.requests) == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	close(det.block)

	assert.NoError(t, <-first)
	select {
	case err := <-queued:
		// The worker may pick up the queued call before it sees Close.
		if err != nil {
			assert.True(t, errors.Is(err, ErrClosed), "%v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued call did not return after Close")
	}
	<-closed
	assert.LessOrEqual(t, det.calls.Load(), int64(2))
}

func TestTranslateNilLogger(t *testing.T) {
	got := Translate([]inference.Record{{}}, mustPlan(t, 10, 10, 10), nil)
	assert.Empty(t, got)
}
