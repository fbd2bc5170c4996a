// Package message defines the frame exchanged between two endpoints over a message channel.
//
// Frame is the "envelope" for every call. A request names a method and carries its ordered
// arguments; the matching response echoes the request ID and carries either a result or an
// error string, never both.
//
//	{"type":"rpc-request","id":"7f1c...","method":"getTitle","args":[]}
//	{"type":"rpc-response","id":"7f1c...","result":"Dashboard"}
//	{"type":"rpc-response","id":"7f1c...","error":"Method 'getTitle' not found"}
//
// The wire form is produced by the JSON and MessagePack methods in wire.go.
package message

// Type distinguishes request and response frames.
type Type string

const (
	TypeRequest  Type = "rpc-request"
	TypeResponse Type = "rpc-response"
)

// Frame carries the data for a single request or response.
//
//   - On request:  Method and Args are set, Result and Error are empty.
//   - On response: Result is set on success, Error is non-empty if the call failed.
type Frame struct {
	Type Type `json:"type" msgpack:"type"`

	// ID is generated by the caller and echoed verbatim by the callee. Counterparts may use
	// numeric ids; those keep their literal text here with NumericID set, and go back out
	// as numbers.
	ID        string
	NumericID bool

	Method string
	Args   []any

	Result any
	Error  string
}

// NewRequest builds a request frame. A nil args slice is sent as an empty list.
func NewRequest(id, method string, args []any) *Frame {
	if args == nil {
		args = []any{}
	}
	return &Frame{Type: TypeRequest, ID: id, Method: method, Args: args}
}

// NewResult builds a successful response frame.
func NewResult(id string, result any) *Frame {
	return &Frame{Type: TypeResponse, ID: id, Result: result}
}

// NewError builds a failed response frame.
func NewError(id string, msg string) *Frame {
	return &Frame{Type: TypeResponse, ID: id, Error: msg}
}

func (f *Frame) IsRequest() bool { return f.Type == TypeRequest }

func (f *Frame) IsResponse() bool { return f.Type == TypeResponse }

// ReplyTo makes f answer req, echoing its id in the form req used.
func (f *Frame) ReplyTo(req *Frame) *Frame {
	f.ID, f.NumericID = req.ID, req.NumericID
	return f
}

// Failed reports whether a response frame carries an error.
func (f *Frame) Failed() bool { return f.Error != "" }
