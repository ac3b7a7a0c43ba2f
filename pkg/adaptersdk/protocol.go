package adaptersdk

// Message types exchanged between host and adapter process, one JSON object
// per line.
const (
	// host → adapter
	TypeDescribe = "describe"
	TypeInit     = "init"
	TypeExecute  = "execute"
	TypeReply    = "reply"

	// adapter → host
	TypeCall   = "call"
	TypeResult = "result"
)

// Message is the single envelope for every line of the protocol. Which
// fields are set depends on Type.
type Message struct {
	Params map[string]any `json:"params,omitempty"`
	Opts   map[string]any `json:"opts,omitempty"`
	Data   any            `json:"data,omitempty"`
	Error  *WireError     `json:"error,omitempty"`
	Type   string         `json:"type"`
	Tool   string         `json:"tool,omitempty"`
	Method string         `json:"method,omitempty"`
	Args   []any          `json:"args,omitempty"`
	ID     int64          `json:"id,omitempty"`
}

// WireError is a coded failure crossing the process boundary.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return e.Message
}

// Description is the data of a describe result.
type Description struct {
	ID    string   `json:"id"`
	Tools []string `json:"tools"`
}
