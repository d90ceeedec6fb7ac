package server

type connState int

const (
	stateFree connState = iota
	stateReading
	stateProcessing
	stateWriting
)

func (s connState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateReading:
		return "reading"
	case stateProcessing:
		return "processing"
	case stateWriting:
		return "writing"
	}
	return "invalid"
}

// conn is one slot of the fixed connection table. buf holds the frame
// header during the length phase, then the request payload, then the
// response; it is allocated when a connection is assigned and freed with
// the slot so idle slots hold no memory.
type conn struct {
	state      connState
	fd         int
	remote     string
	lastActive int64

	// rwSize is the expected payload length while reading (0 during the
	// header phase) and the response length while writing; rwPos tracks
	// progress through either.
	rwSize int
	rwPos  int
	buf    []byte

	authorized      bool
	applicationType int
	worldID         int
}

func (c *conn) reset() {
	*c = conn{fd: -1}
	c.state = stateFree
}
