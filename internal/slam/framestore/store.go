package framestore

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antares511/DPVO/internal/timeutil"
)

// Config fixes the shape of a Store at creation.
type Config struct {
	Capacity    int
	ImageWidth  int
	ImageHeight int
	Stereo      bool

	// NormalizationScale is the divisor applied to intrinsics before
	// commit, and the downsampling factor of depth fields.
	NormalizationScale float64

	// Clock measures lock wait and hold times. Defaults to RealClock.
	Clock timeutil.Clock
}

// Store is the bounded keyframe buffer. All state is guarded by a single
// mutex; see the package documentation for the locking contract.
type Store struct {
	cfg   Config
	clock timeutil.Clock

	fieldWidth  int
	fieldHeight int

	mu      sync.Mutex
	records []Record // len is the committed count n, cap is the capacity
	m       int
	lastTS  int64

	acquisitions atomic.Int64
	waitNanos    atomic.Int64
	holdNanos    atomic.Int64
	maxHoldNanos atomic.Int64
}

// New creates an empty store. The backing array is allocated once at full
// capacity and never grows.
func New(cfg Config) (*Store, error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidConfig, cfg.Capacity)
	}
	if cfg.ImageWidth < 1 || cfg.ImageHeight < 1 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidConfig, cfg.ImageWidth, cfg.ImageHeight)
	}
	if cfg.NormalizationScale == 0 {
		cfg.NormalizationScale = 1
	}
	if cfg.NormalizationScale < 0 || math.IsNaN(cfg.NormalizationScale) || math.IsInf(cfg.NormalizationScale, 0) {
		return nil, fmt.Errorf("%w: normalization scale %f", ErrInvalidConfig, cfg.NormalizationScale)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Store{
		cfg:     cfg,
		clock:   clock,
		records: make([]Record, 0, cfg.Capacity),
	}
	s.fieldWidth, s.fieldHeight = cfg.FieldSize()
	return s, nil
}

// FieldSize returns the depth field size for cfg: the image size divided
// by the normalisation scale, at least 1x1. A zero scale counts as 1.
func (cfg Config) FieldSize() (width, height int) {
	scale := cfg.NormalizationScale
	if scale <= 0 {
		scale = 1
	}
	return max(1, int(float64(cfg.ImageWidth)/scale)), max(1, int(float64(cfg.ImageHeight)/scale))
}

// Capacity returns the fixed maximum number of records.
func (s *Store) Capacity() int { return s.cfg.Capacity }

// Scale returns the normalisation scale fixed at creation.
func (s *Store) Scale() float64 { return s.cfg.NormalizationScale }

// Stereo reports whether records carry a right image.
func (s *Store) Stereo() bool { return s.cfg.Stereo }

// ImageSize returns the expected image width and height.
func (s *Store) ImageSize() (width, height int) {
	return s.cfg.ImageWidth, s.cfg.ImageHeight
}

// FieldSize returns the width and height every depth and disparity field
// must have: the image size divided by the normalisation scale.
func (s *Store) FieldSize() (width, height int) {
	return s.fieldWidth, s.fieldHeight
}

// Acquire blocks until the store mutex is free and returns the token for
// one critical section. The caller must Release it.
func (s *Store) Acquire() *Tx {
	start := s.clock.Now()
	s.mu.Lock()
	acquired := s.clock.Now()
	s.acquisitions.Add(1)
	s.waitNanos.Add(int64(acquired.Sub(start)))
	return &Tx{s: s, acquiredAt: acquired}
}

// Locked runs fn with the token held and releases it afterwards, also when
// fn panics.
func (s *Store) Locked(fn func(tx *Tx) error) error {
	tx := s.Acquire()
	defer tx.Release()
	return fn(tx)
}

func (s *Store) recordHold(d time.Duration) {
	s.holdNanos.Add(int64(d))
	for {
		cur := s.maxHoldNanos.Load()
		if int64(d) <= cur || s.maxHoldNanos.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// Append commits rec with the given number of measurements. See Tx.Append.
func (s *Store) Append(rec Record, measurements int) (int, error) {
	var idx int
	err := s.Locked(func(tx *Tx) error {
		var err error
		idx, err = tx.Append(rec, measurements)
		return err
	})
	return idx, err
}

// Read returns a copy of the record at index i. See Tx.Read.
func (s *Store) Read(i int) (Record, error) {
	var rec Record
	err := s.Locked(func(tx *Tx) error {
		var err error
		rec, err = tx.Read(i)
		return err
	})
	return rec, err
}

// Write applies u to the record at index i. See Tx.Write.
func (s *Store) Write(i int, u Update) error {
	return s.Locked(func(tx *Tx) error {
		return tx.Write(i, u)
	})
}

// Len returns the committed record count n.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Measurements returns the measurement count m.
func (s *Store) Measurements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

// Full reports whether no further append can succeed.
func (s *Store) Full() bool {
	return s.Len() >= s.cfg.Capacity
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Records      []Record
	Frames       int
	Measurements int
	Capacity     int
}

// Snapshot copies every committed record and both counters under one
// acquisition of the lock.
func (s *Store) Snapshot() Snapshot {
	tx := s.Acquire()
	defer tx.Release()
	_, recs, _ := tx.Window(0)
	return Snapshot{
		Records:      recs,
		Frames:       len(s.records),
		Measurements: s.m,
		Capacity:     s.cfg.Capacity,
	}
}

// LockStats summarises contention on the store mutex.
type LockStats struct {
	Acquisitions int64
	TotalWait    time.Duration
	TotalHold    time.Duration
	MaxHold      time.Duration
}

// Stats returns the lock counters accumulated since creation.
func (s *Store) Stats() LockStats {
	return LockStats{
		Acquisitions: s.acquisitions.Load(),
		TotalWait:    time.Duration(s.waitNanos.Load()),
		TotalHold:    time.Duration(s.holdNanos.Load()),
		MaxHold:      time.Duration(s.maxHoldNanos.Load()),
	}
}
