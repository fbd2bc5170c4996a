package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// wireFrame is Frame as it travels. ID is a string or a number, whichever the caller used.
type wireFrame struct {
	Type   Type   `json:"type" msgpack:"type"`
	ID     any    `json:"id" msgpack:"id"`
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`
	Args   []any  `json:"args,omitempty" msgpack:"args,omitempty"`
	Result any    `json:"result,omitempty" msgpack:"result,omitempty"`
	Error  string `json:"error,omitempty" msgpack:"error,omitempty"`
}

func (f Frame) wire(id any) wireFrame {
	return wireFrame{Type: f.Type, ID: id, Method: f.Method, Args: f.Args, Result: f.Result, Error: f.Error}
}

func (f *Frame) fromWire(w wireFrame) {
	f.Type, f.Method, f.Args, f.Result, f.Error = w.Type, w.Method, w.Args, w.Result, w.Error
}

func (f Frame) MarshalJSON() ([]byte, error) {
	var id any = f.ID
	if f.NumericID {
		if !json.Valid([]byte(f.ID)) {
			return nil, fmt.Errorf("message: numeric id %q is not a number", f.ID)
		}
		id = json.RawMessage(f.ID)
	}
	return json.Marshal(f.wire(id))
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var w struct {
		wireFrame
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.fromWire(w.wireFrame)

	raw := bytes.TrimSpace(w.ID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		f.ID, f.NumericID = "", false
	case raw[0] == '"':
		f.NumericID = false
		return json.Unmarshal(raw, &f.ID)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("message: id must be a string or a number, got %s", raw)
		}
		f.ID, f.NumericID = n.String(), true
	}
	return nil
}

var (
	_ msgpack.CustomEncoder = Frame{}
	_ msgpack.CustomDecoder = (*Frame)(nil)
)

func (f Frame) EncodeMsgpack(enc *msgpack.Encoder) error {
	var id any = f.ID
	if f.NumericID {
		n := json.Number(f.ID)
		if i, err := n.Int64(); err == nil {
			id = i
		} else if x, err := n.Float64(); err == nil {
			id = x
		} else {
			return fmt.Errorf("message: numeric id %q is not a number", f.ID)
		}
	}
	return enc.Encode(f.wire(id))
}

func (f *Frame) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w wireFrame
	if err := dec.Decode(&w); err != nil {
		return err
	}
	f.fromWire(w)

	f.NumericID = true
	switch id := w.ID.(type) {
	case nil:
		f.ID, f.NumericID = "", false
	case string:
		f.ID, f.NumericID = id, false
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f.ID = fmt.Sprint(id)
	case float32:
		f.ID = strconv.FormatFloat(float64(id), 'g', -1, 32)
	case float64:
		f.ID = strconv.FormatFloat(id, 'g', -1, 64)
	default:
		return fmt.Errorf("message: id must be a string or a number, got %T", w.ID)
	}
	return nil
}
