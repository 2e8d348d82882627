package intrusive

import "errors"

var (
	// ErrNotLinked indicates a node that is not a member of the container it was passed to.
	ErrNotLinked = errors.New("intrusive: node not linked into this container")

	// ErrAlreadyLinked indicates a node that is already a member of some container.
	ErrAlreadyLinked = errors.New("intrusive: node already linked")
)
