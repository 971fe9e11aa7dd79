package framestore

import "errors"

var (
	// ErrCapacityExceeded is returned by Append when the store is full.
	ErrCapacityExceeded = errors.New("frame store capacity exceeded")

	// ErrIndexOutOfRange is returned by Read and Write for an index that
	// has not been committed.
	ErrIndexOutOfRange = errors.New("frame index out of range")

	// ErrTimestampOrder is returned by Append when the timestamp does not
	// strictly follow the last committed one.
	ErrTimestampOrder = errors.New("frame timestamp not after last committed frame")

	// ErrImageSize is returned when an image or depth field does not match
	// the dimensions fixed at store creation.
	ErrImageSize = errors.New("frame dimensions do not match store")

	// ErrStereoMismatch is returned when a right image is missing from a
	// stereo store or present in a monocular one.
	ErrStereoMismatch = errors.New("stereo image does not match store mode")

	// ErrInvalidRecord is returned for records or updates carrying missing
	// images, non-finite values or negative measurement counts.
	ErrInvalidRecord = errors.New("invalid frame record")

	// ErrTxReleased is returned by methods called on a released Tx.
	ErrTxReleased = errors.New("frame store token already released")

	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("invalid frame store config")
)
