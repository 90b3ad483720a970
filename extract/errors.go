package extract

import "fmt"

type ErrorKind int

const (
	// KindNoContent means the page parsed but nothing readable was found
	KindNoContent ErrorKind = iota
	// KindMalformed means the body is not markup we can work with
	KindMalformed
	// KindTraversalLimit means the document has more nodes than allowed
	KindTraversalLimit
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoContent:
		return "no content"
	case KindMalformed:
		return "malformed document"
	case KindTraversalLimit:
		return "traversal limit exceeded"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: %s: %v", e.Kind, e.Err)
	}
	return "extract: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
