package recovery

// Strategy decides how the engine reacts to a recoverable failure while
// parsing or rewriting a document. Implementations are consulted at the
// narrowest scope that can continue: one object, one page, one stream.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pinpoints where inside a document a failure happened.
type Location struct {
	Document   string
	Page       int // -1 when not page-scoped
	ObjectNum  int
	ObjectGen  int
	ByteOffset int64
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionWarn
)
