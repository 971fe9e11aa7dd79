package framestore

import (
	"fmt"
	"time"

	"github.com/antares511/DPVO/internal/slam/imaging"
)

// Tx is the exclusive-access token returned by Store.Acquire. It is valid
// until Release and must not be shared between goroutines.
type Tx struct {
	s          *Store
	acquiredAt time.Time
	released   bool
}

// Release ends the critical section. Releasing twice is a no-op.
func (tx *Tx) Release() {
	if tx.released {
		return
	}
	tx.released = true
	tx.s.recordHold(tx.s.clock.Since(tx.acquiredAt))
	tx.s.mu.Unlock()
}

// Len returns the committed record count n.
func (tx *Tx) Len() int {
	return len(tx.s.records)
}

// Measurements returns the measurement count m.
func (tx *Tx) Measurements() int {
	return tx.s.m
}

// Append stores rec at index n and adds measurements to m. It fails with
// ErrCapacityExceeded when n == capacity, and with ErrTimestampOrder,
// ErrImageSize, ErrStereoMismatch or ErrInvalidRecord when rec is
// malformed. On failure neither counter changes.
func (tx *Tx) Append(rec Record, measurements int) (int, error) {
	if tx.released {
		return 0, ErrTxReleased
	}
	s := tx.s
	n := len(s.records)
	if n+1 > s.cfg.Capacity {
		return 0, fmt.Errorf("%w: %d/%d frames committed", ErrCapacityExceeded, n, s.cfg.Capacity)
	}
	if measurements < 0 {
		return 0, fmt.Errorf("%w: negative measurement count %d", ErrInvalidRecord, measurements)
	}
	if n > 0 && rec.TimestampNanos <= s.lastTS {
		return 0, fmt.Errorf("%w: %d after %d", ErrTimestampOrder, rec.TimestampNanos, s.lastTS)
	}
	if err := s.checkImage(rec.Image, "image"); err != nil {
		return 0, err
	}
	switch {
	case s.cfg.Stereo && rec.Right == nil:
		return 0, fmt.Errorf("%w: stereo store requires a right image", ErrStereoMismatch)
	case !s.cfg.Stereo && rec.Right != nil:
		return 0, fmt.Errorf("%w: monocular store got a right image", ErrStereoMismatch)
	case rec.Right != nil:
		if err := s.checkImage(rec.Right, "right image"); err != nil {
			return 0, err
		}
	}
	if !rec.Pose.Valid() {
		return 0, fmt.Errorf("%w: pose %s", ErrInvalidRecord, rec.Pose)
	}
	if !rec.TrackedPose.Valid() {
		rec.TrackedPose = rec.Pose
	}
	if !rec.Intrinsics.Valid() {
		return 0, fmt.Errorf("%w: intrinsics %+v", ErrInvalidRecord, rec.Intrinsics)
	}
	if err := s.checkField(rec.Depth, "depth"); err != nil {
		return 0, err
	}
	if err := s.checkField(rec.Disparity, "disparity"); err != nil {
		return 0, err
	}

	s.records = append(s.records, rec.clone())
	s.m += measurements
	s.lastTS = rec.TimestampNanos
	return n, nil
}

// Read returns a copy of the record at index i, including any backend
// refinement applied so far.
func (tx *Tx) Read(i int) (Record, error) {
	if tx.released {
		return Record{}, ErrTxReleased
	}
	if i < 0 || i >= len(tx.s.records) {
		return Record{}, fmt.Errorf("%w: %d (committed %d)", ErrIndexOutOfRange, i, len(tx.s.records))
	}
	return tx.s.records[i].clone(), nil
}

// Write applies the non-nil fields of u to record i. Every field is
// validated before any is applied. Write never changes n or the order of
// records.
func (tx *Tx) Write(i int, u Update) error {
	if err := tx.CheckUpdate(i, u); err != nil {
		return err
	}
	rec := &tx.s.records[i]
	if u.Pose != nil {
		rec.Pose = u.Pose.Normalized()
	}
	if u.Depth != nil {
		rec.Depth = u.Depth.Clone()
	}
	if u.Disparity != nil {
		rec.Disparity = u.Disparity.Clone()
	}
	return nil
}

// CheckUpdate reports the error Write(i, u) would return without applying
// anything. Callers batching several writes use it to keep the batch
// all-or-nothing.
func (tx *Tx) CheckUpdate(i int, u Update) error {
	if tx.released {
		return ErrTxReleased
	}
	s := tx.s
	if i < 0 || i >= len(s.records) {
		return fmt.Errorf("%w: %d (committed %d)", ErrIndexOutOfRange, i, len(s.records))
	}
	if u.Pose != nil && !u.Pose.Valid() {
		return fmt.Errorf("%w: pose %s", ErrInvalidRecord, *u.Pose)
	}
	if err := s.checkField(u.Depth, "depth"); err != nil {
		return err
	}
	return s.checkField(u.Disparity, "disparity")
}

// Window returns copies of the last size committed records and the index
// of the first one. size <= 0 selects every record.
func (tx *Tx) Window(size int) (start int, recs []Record, err error) {
	if tx.released {
		return 0, nil, ErrTxReleased
	}
	n := len(tx.s.records)
	if size <= 0 || size > n {
		size = n
	}
	start = n - size
	recs = make([]Record, size)
	for i := range recs {
		recs[i] = tx.s.records[start+i].clone()
	}
	return start, recs, nil
}

func (s *Store) checkImage(img *imaging.Image, what string) error {
	if img == nil {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, what)
	}
	if img.Width() != s.cfg.ImageWidth || img.Height() != s.cfg.ImageHeight {
		return fmt.Errorf("%w: %s is %dx%d, store expects %dx%d", ErrImageSize, what,
			img.Width(), img.Height(), s.cfg.ImageWidth, s.cfg.ImageHeight)
	}
	return nil
}

func (s *Store) checkField(f *Field, what string) error {
	if f == nil {
		return nil
	}
	if f.Width != s.fieldWidth || f.Height != s.fieldHeight {
		return fmt.Errorf("%w: %s field is %dx%d, store expects %dx%d", ErrImageSize, what,
			f.Width, f.Height, s.fieldWidth, s.fieldHeight)
	}
	if !f.valid() {
		return fmt.Errorf("%w: %s field malformed or non-finite", ErrInvalidRecord, what)
	}
	return nil
}
