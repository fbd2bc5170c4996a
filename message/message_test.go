package message

import (
	"encoding/json"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestRequestWireFormat(t *testing.T) {
	req := NewRequest("42", "add", []any{1, 2})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	want := `{"type":"rpc-request","id":"42","method":"add","args":[1,2]}`
	if string(data) != want {
		t.Fatalf("expect %s, got %s", want, data)
	}
}

func TestNilArgsBecomeEmptyList(t *testing.T) {
	req := NewRequest("1", "ping", nil)
	if req.Args == nil || len(req.Args) != 0 {
		t.Fatalf("expect empty args, got %#v", req.Args)
	}
}

func TestResponseCarriesResultOrError(t *testing.T) {
	ok := NewResult("1", "pong")
	if !ok.IsResponse() || ok.Failed() {
		t.Fatalf("expect successful response, got %+v", ok)
	}

	failed := NewError("1", "boom")
	if !failed.Failed() || failed.Result != nil {
		t.Fatalf("expect failed response without result, got %+v", failed)
	}

	data, err := json.Marshal(failed)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"rpc-response","id":"1","error":"boom"}` {
		t.Fatalf("unexpected wire form: %s", data)
	}
}

func TestNumericIDRoundTrip(t *testing.T) {
	var req Frame
	if err := json.Unmarshal([]byte(`{"type":"rpc-request","id":7,"method":"ping","args":[]}`), &req); err != nil {
		t.Fatalf("numeric id rejected: %v", err)
	}
	if req.ID != "7" || !req.NumericID {
		t.Fatalf("expect numeric id 7, got %q (numeric=%v)", req.ID, req.NumericID)
	}

	resp := NewResult(req.ID, "pong").ReplyTo(&req)
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"rpc-response","id":7,"result":"pong"}` {
		t.Fatalf("unexpected wire form: %s", data)
	}

	// large and fractional ids keep their literal text
	for _, raw := range []string{`12345678901234567890`, `1.5`} {
		var f Frame
		if err := json.Unmarshal([]byte(`{"type":"rpc-request","id":`+raw+`,"method":"m"}`), &f); err != nil {
			t.Fatalf("id %s rejected: %v", raw, err)
		}
		out, err := json.Marshal(f)
		if err != nil {
			t.Fatal(err)
		}
		if want := `{"type":"rpc-request","id":` + raw + `,"method":"m"}`; string(out) != want {
			t.Fatalf("expect %s, got %s", want, out)
		}
	}
}

func TestStringIDStaysString(t *testing.T) {
	var f Frame
	if err := json.Unmarshal([]byte(`{"type":"rpc-response","id":"7","result":1}`), &f); err != nil {
		t.Fatal(err)
	}
	if f.ID != "7" || f.NumericID {
		t.Fatalf("expect string id, got %q (numeric=%v)", f.ID, f.NumericID)
	}
}

func TestInvalidIDType(t *testing.T) {
	for _, raw := range []string{`true`, `{}`, `[1]`} {
		var f Frame
		if err := json.Unmarshal([]byte(`{"type":"rpc-request","id":`+raw+`,"method":"m"}`), &f); err == nil {
			t.Fatalf("id %s should be rejected", raw)
		}
	}

	var f Frame
	if err := json.Unmarshal([]byte(`{"type":"rpc-request","method":"m"}`), &f); err != nil {
		t.Fatal(err)
	}
	if f.ID != "" || f.NumericID {
		t.Fatalf("missing id should decode as empty, got %q", f.ID)
	}
}

func TestMsgpackNumericID(t *testing.T) {
	data, err := msgpack.Marshal(&Frame{Type: TypeRequest, ID: "42", NumericID: true, Method: "ping"})
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["id"].(string); ok {
		t.Fatalf("numeric id encoded as a string: %#v", raw["id"])
	}

	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.ID != "42" || !f.NumericID || f.Method != "ping" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}
