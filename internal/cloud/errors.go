package cloud

import "errors"

var (
	// ErrUnsupportedFormat is returned for file extensions other than
	// .pcd and .asc/.xyz/.txt.
	ErrUnsupportedFormat = errors.New("cloud: unsupported point cloud format")

	// ErrUnsupportedPCD is returned for binary or compressed PCD data.
	ErrUnsupportedPCD = errors.New("cloud: only ASCII PCD data is supported")

	// ErrMalformed is returned when a header or data row cannot be parsed.
	ErrMalformed = errors.New("cloud: malformed point cloud")
)
