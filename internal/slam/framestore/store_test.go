package framestore

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/imaging"
	"github.com/antares511/DPVO/internal/testutil"
	"github.com/antares511/DPVO/internal/timeutil"
)

const (
	testWidth  = 64
	testHeight = 48
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := New(Config{
		Capacity:           capacity,
		ImageWidth:         testWidth,
		ImageHeight:        testHeight,
		NormalizationScale: 4,
	})
	require.NoError(t, err)
	return s
}

func testRecord(t *testing.T, ts int64) Record {
	t.Helper()
	return Record{
		TimestampNanos: ts,
		Image:          testutil.GradientImage(t, testWidth, testHeight, int(ts%16)),
		Pose:           geom.NewPose(geom.AxisAngle(r3.Vec{Z: 1}, 0.01*float64(ts)), r3.Vec{X: float64(ts)}),
		Intrinsics:     testutil.DefaultIntrinsics.Scaled(4),
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Capacity: 0, ImageWidth: 1, ImageHeight: 1},
		{Capacity: 1, ImageWidth: 0, ImageHeight: 1},
		{Capacity: 1, ImageWidth: 1, ImageHeight: 1, NormalizationScale: -2},
		{Capacity: 1, ImageWidth: 1, ImageHeight: 1, NormalizationScale: math.NaN()},
	} {
		_, err := New(cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "config %+v", cfg)
	}
}

func TestFieldSize(t *testing.T) {
	s := newTestStore(t, 1)
	w, h := s.FieldSize()
	assert.Equal(t, 16, w)
	assert.Equal(t, 12, h)
	assert.Equal(t, 4.0, s.Scale())
}

func TestAppend_SequentialIndices(t *testing.T) {
	s := newTestStore(t, 5)
	for i := 0; i < 5; i++ {
		idx, err := s.Append(testRecord(t, int64(i+1)), 96)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 5*96, s.Measurements())
	assert.True(t, s.Full())
}

func TestAppend_CapacityExceededLeavesCountersUnchanged(t *testing.T) {
	s := newTestStore(t, 3)
	for i := 0; i < 3; i++ {
		_, err := s.Append(testRecord(t, int64(i+1)), 10)
		require.NoError(t, err)
	}

	_, err := s.Append(testRecord(t, 4), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 30, s.Measurements())
}

func TestAppend_NeverExceedsCapacity(t *testing.T) {
	for capacity := 1; capacity <= 6; capacity++ {
		s := newTestStore(t, capacity)
		for i := 0; i < capacity+3; i++ {
			_, err := s.Append(testRecord(t, int64(i+1)), 1)
			if i < capacity {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrCapacityExceeded)
			}
			assert.LessOrEqual(t, s.Len(), capacity)
		}
	}
}

func TestAppend_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Record)
		meas    int
		wantErr error
	}{
		{"missing image", func(r *Record) { r.Image = nil }, 0, ErrInvalidRecord},
		{"wrong image size", func(r *Record) { r.Image = testutil.UniformImage(t, 32, 48, 1) }, 0, ErrImageSize},
		{"right image on mono store", func(r *Record) { r.Right = r.Image }, 0, ErrStereoMismatch},
		{"non-finite pose", func(r *Record) { r.Pose.Translation.Y = math.Inf(1) }, 0, ErrInvalidRecord},
		{"bad intrinsics", func(r *Record) { r.Intrinsics.Fx = 0 }, 0, ErrInvalidRecord},
		{"negative measurements", func(r *Record) {}, -1, ErrInvalidRecord},
		{"depth wrong size", func(r *Record) { r.Depth = NewField(3, 3, 1) }, 0, ErrImageSize},
		{"disparity non-finite", func(r *Record) {
			r.Disparity = NewField(16, 12, 1)
			r.Disparity.Data[5] = float32(math.NaN())
		}, 0, ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, 2)
			rec := testRecord(t, 1)
			tt.mutate(&rec)
			_, err := s.Append(rec, tt.meas)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, s.Len())
			assert.Equal(t, 0, s.Measurements())
		})
	}
}

func TestAppend_TimestampOrder(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Append(testRecord(t, 10), 1)
	require.NoError(t, err)

	_, err = s.Append(testRecord(t, 10), 1)
	assert.ErrorIs(t, err, ErrTimestampOrder, "duplicate timestamp")

	_, err = s.Append(testRecord(t, 5), 1)
	assert.ErrorIs(t, err, ErrTimestampOrder, "timestamp going backwards")

	_, err = s.Append(testRecord(t, 11), 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestStereoStore(t *testing.T) {
	s, err := New(Config{Capacity: 2, ImageWidth: testWidth, ImageHeight: testHeight, Stereo: true, NormalizationScale: 4})
	require.NoError(t, err)

	rec := testRecord(t, 1)
	_, err = s.Append(rec, 1)
	assert.ErrorIs(t, err, ErrStereoMismatch)

	rec.Right = testutil.UniformImage(t, testWidth, testHeight, 9)
	_, err = s.Append(rec, 1)
	require.NoError(t, err)

	got, err := s.Read(0)
	require.NoError(t, err)
	assert.Same(t, rec.Right, got.Right)
}

func TestRead_ReturnsCommittedRecord(t *testing.T) {
	s := newTestStore(t, 4)
	rec := testRecord(t, 7)
	rec.Disparity = NewField(16, 12, 0.5)
	_, err := s.Append(rec, 3)
	require.NoError(t, err)

	got, err := s.Read(0)
	require.NoError(t, err)

	opts := cmp.Comparer(func(a, b *imaging.Image) bool { return a == b })
	want := rec
	want.TrackedPose = rec.Pose
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, got.Depth, "depth stays unset")
}

func TestRead_DoesNotAliasStore(t *testing.T) {
	s := newTestStore(t, 2)
	rec := testRecord(t, 1)
	rec.Depth = NewField(16, 12, 2)
	_, err := s.Append(rec, 0)
	require.NoError(t, err)

	rec.Depth.Data[0] = 99 // caller's copy
	got, err := s.Read(0)
	require.NoError(t, err)
	assert.Equal(t, float32(2), got.Depth.Data[0])

	got.Depth.Data[0] = 42 // reader's copy
	again, err := s.Read(0)
	require.NoError(t, err)
	assert.Equal(t, float32(2), again.Depth.Data[0])
}

func TestReadWrite_IndexOutOfRange(t *testing.T) {
	s := newTestStore(t, 3)
	_, err := s.Append(testRecord(t, 1), 0)
	require.NoError(t, err)

	for _, i := range []int{-1, 1, 2, 100} {
		_, err := s.Read(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "read %d", i)

		p := geom.Identity()
		err = s.Write(i, Update{Pose: &p})
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "write %d", i)
	}
	assert.Equal(t, 1, s.Len())
}

func TestWrite_AppliesOnlySetFields(t *testing.T) {
	s := newTestStore(t, 2)
	rec := testRecord(t, 1)
	_, err := s.Append(rec, 0)
	require.NoError(t, err)

	pose := geom.NewPose(geom.AxisAngle(r3.Vec{Y: 1}, 0.2), r3.Vec{Z: 3})
	require.NoError(t, s.Write(0, Update{Pose: &pose}))

	got, err := s.Read(0)
	require.NoError(t, err)
	trans, angle := geom.Distance(pose, got.Pose)
	assert.InDelta(t, 0, trans, 1e-12)
	assert.InDelta(t, 0, angle, 1e-6)
	assert.Nil(t, got.Depth)

	trans, _ = geom.Distance(rec.Pose, got.TrackedPose)
	assert.InDelta(t, 0, trans, 1e-12, "tracked pose is immutable")

	require.NoError(t, s.Write(0, Update{Depth: NewField(16, 12, 1.5)}))
	got, err = s.Read(0)
	require.NoError(t, err)
	require.NotNil(t, got.Depth)
	assert.Equal(t, 1.5, got.Depth.Mean())
	trans, _ = geom.Distance(pose, got.Pose)
	assert.InDelta(t, 0, trans, 1e-12, "pose untouched by depth-only update")
}

func TestWrite_RejectsInvalidUpdateAtomically(t *testing.T) {
	s := newTestStore(t, 2)
	_, err := s.Append(testRecord(t, 1), 0)
	require.NoError(t, err)

	good := geom.NewPose(geom.AxisAngle(r3.Vec{Z: 1}, 1), r3.Vec{X: 5})
	err = s.Write(0, Update{Pose: &good, Depth: NewField(2, 2, 1)})
	assert.ErrorIs(t, err, ErrImageSize)

	got, err := s.Read(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Pose.Translation.X, "pose must not be applied when depth is rejected")

	bad := geom.Identity()
	bad.Scale = math.NaN()
	assert.ErrorIs(t, s.Write(0, Update{Pose: &bad}), ErrInvalidRecord)
}

func TestTx_ReleasedTokenRejectsCalls(t *testing.T) {
	s := newTestStore(t, 2)
	tx := s.Acquire()
	tx.Release()
	tx.Release() // idempotent

	_, err := tx.Append(testRecord(t, 1), 0)
	assert.ErrorIs(t, err, ErrTxReleased)
	_, err = tx.Read(0)
	assert.ErrorIs(t, err, ErrTxReleased)
	assert.ErrorIs(t, tx.Write(0, Update{}), ErrTxReleased)
	_, _, err = tx.Window(0)
	assert.ErrorIs(t, err, ErrTxReleased)

	// The store is usable again after release.
	_, err = s.Append(testRecord(t, 1), 0)
	assert.NoError(t, err)
}

func TestLocked_ReleasesOnPanic(t *testing.T) {
	s := newTestStore(t, 2)
	func() {
		defer func() { _ = recover() }()
		_ = s.Locked(func(tx *Tx) error { panic("boom") })
	}()
	assert.Equal(t, 0, s.Len(), "lock must be free after a panicking section")
}

func TestWindow(t *testing.T) {
	s := newTestStore(t, 6)
	for i := 1; i <= 5; i++ {
		_, err := s.Append(testRecord(t, int64(i)), 0)
		require.NoError(t, err)
	}

	err := s.Locked(func(tx *Tx) error {
		start, recs, err := tx.Window(3)
		require.NoError(t, err)
		assert.Equal(t, 2, start)
		require.Len(t, recs, 3)
		assert.Equal(t, int64(3), recs[0].TimestampNanos)
		assert.Equal(t, int64(5), recs[2].TimestampNanos)

		start, recs, err = tx.Window(0)
		require.NoError(t, err)
		assert.Equal(t, 0, start)
		assert.Len(t, recs, 5)

		start, recs, err = tx.Window(50)
		require.NoError(t, err)
		assert.Equal(t, 0, start)
		assert.Len(t, recs, 5)
		return nil
	})
	require.NoError(t, err)
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t, 4)
	for i := 1; i <= 3; i++ {
		_, err := s.Append(testRecord(t, int64(i)), 96)
		require.NoError(t, err)
	}
	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Frames)
	assert.Equal(t, 288, snap.Measurements)
	assert.Equal(t, 4, snap.Capacity)
	assert.Len(t, snap.Records, 3)
}

func TestStats_UsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s, err := New(Config{Capacity: 2, ImageWidth: testWidth, ImageHeight: testHeight, Clock: clock})
	require.NoError(t, err)

	tx := s.Acquire()
	clock.Advance(5 * time.Millisecond)
	tx.Release()

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Acquisitions)
	assert.Equal(t, 5*time.Millisecond, stats.TotalHold)
	assert.Equal(t, 5*time.Millisecond, stats.MaxHold)
}

// A reader racing with a writer that updates pose and depth together in one
// critical section must always see both from the same round.
func TestConcurrentWriteNeverTearsFields(t *testing.T) {
	s := newTestStore(t, 2)
	rec := testRecord(t, 1)
	rec.Pose = geom.NewPose(geom.AxisAngle(r3.Vec{Z: 1}, 0), r3.Vec{X: 0})
	rec.Depth = NewField(16, 12, 0)
	_, err := s.Append(rec, 0)
	require.NoError(t, err)

	const rounds = 500
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for k := 1; k <= rounds; k++ {
			pose := geom.NewPose(geom.AxisAngle(r3.Vec{Z: 1}, 0), r3.Vec{X: float64(k)})
			_ = s.Locked(func(tx *Tx) error {
				if err := tx.Write(0, Update{Pose: &pose}); err != nil {
					return err
				}
				return tx.Write(0, Update{Depth: NewField(16, 12, float32(k))})
			})
		}
	}()

	errs := make(chan string, rounds)
	go func() {
		defer wg.Done()
		for k := 0; k < rounds; k++ {
			got, err := s.Read(0)
			if err != nil {
				errs <- err.Error()
				return
			}
			for _, v := range got.Depth.Data {
				if float64(v) != got.Pose.Translation.X {
					errs <- "torn read"
					return
				}
			}
		}
	}()

	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestConcurrentAppendsAssignUniqueIndices(t *testing.T) {
	const workers, perWorker = 4, 25
	s := newTestStore(t, workers*perWorker)

	var mu sync.Mutex
	seen := make(map[int]bool)
	var next int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Timestamps are assigned under the store lock so they stay
				// strictly increasing across goroutines.
				var idx int
				err := s.Locked(func(tx *Tx) error {
					next++
					var err error
					idx, err = tx.Append(testRecord(t, next), 1)
					return err
				})
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[idx] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker, s.Len())
	assert.Equal(t, workers*perWorker, s.Measurements())
}

func TestCheckUpdate_DoesNotApply(t *testing.T) {
	s := newTestStore(t, 2)
	_, err := s.Append(testRecord(t, 1), 1)
	require.NoError(t, err)

	fw, fh := s.FieldSize()
	moved := geom.NewPose(geom.AxisAngle(r3.Vec{Z: 1}, 0), r3.Vec{Y: 3})
	err = s.Locked(func(tx *Tx) error {
		if err := tx.CheckUpdate(0, Update{Pose: &moved, Depth: NewField(fw, fh, 2)}); err != nil {
			return err
		}
		assert.ErrorIs(t, tx.CheckUpdate(1, Update{Pose: &moved}), ErrIndexOutOfRange)
		assert.ErrorIs(t, tx.CheckUpdate(0, Update{Depth: NewField(fw+1, fh, 2)}), ErrImageSize)
		return nil
	})
	require.NoError(t, err)

	rec, err := s.Read(0)
	require.NoError(t, err)
	assert.Nil(t, rec.Depth)
	assert.Zero(t, rec.Pose.Translation.Y)
}

func TestConfigFieldSize(t *testing.T) {
	w, h := Config{ImageWidth: 320, ImageHeight: 240, NormalizationScale: 4}.FieldSize()
	assert.Equal(t, 80, w)
	assert.Equal(t, 60, h)

	w, h = Config{ImageWidth: 3, ImageHeight: 2, NormalizationScale: 8}.FieldSize()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)

	w, h = Config{ImageWidth: 10, ImageHeight: 6}.FieldSize()
	assert.Equal(t, 10, w)
	assert.Equal(t, 6, h)
}
