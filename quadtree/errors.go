package quadtree

const (
	// ErrTypeOutOfBounds is the type of errors caused by a position that the
	// root rect does not contain.
	ErrTypeOutOfBounds = "quadtree_out_of_bounds"

	// ErrTypeInvalidConfig is the type of errors returned by New for unusable
	// thresholds.
	ErrTypeInvalidConfig = "quadtree_invalid_config"

	// ErrTypeCorrupted is the type of errors returned by Validate.
	ErrTypeCorrupted = "quadtree_corrupted"
)
