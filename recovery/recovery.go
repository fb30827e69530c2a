package recovery

// Strategy decides what to do when a component hits malformed input.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location identifies where in a content stream an error occurred.
type Location struct {
	ByteOffset int64
	Operator   string
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)
