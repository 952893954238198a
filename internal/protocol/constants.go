package protocol

// DefaultPort is the TCP port the server listens on.
const DefaultPort = 9000

// Terminator ends every record on the wire.
const Terminator = '\n'

// SeekPrefix starts a control line: SeekPrefix + "<cmd>,<offset>\n".
// Matching is case-sensitive.
const SeekPrefix = "AESDCHAR_IOCSEEKTO:"

// DefaultMaxLineSize bounds how many bytes a session accumulates while
// waiting for a terminator (1 MB).
const DefaultMaxLineSize = 1 << 20

// Kind classifies a completed line.
type Kind int

const (
	KindData Kind = iota
	KindSeek
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindSeek:
		return "seek"
	default:
		return "unknown"
	}
}
