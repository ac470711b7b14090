package rpc

import (
	"encoding/json"
	"io"
	"testing"
)

func TestNewCallRequest(t *testing.T) {
	t.Run("marshals arguments", func(t *testing.T) {
		req, err := NewCallRequest(7, "echo", map[string]string{"q": "hi"})
		if err != nil {
			t.Fatalf("NewCallRequest: %v", err)
		}
		if req.Type != "request" || req.ID != 7 || req.Payload.Type != "callTool" || req.Payload.Name != "echo" {
			t.Fatalf("unexpected envelope: %+v", req)
		}
		var args map[string]string
		if err := json.Unmarshal(req.Payload.Arguments, &args); err != nil {
			t.Fatalf("unmarshal arguments: %v", err)
		}
		if args["q"] != "hi" {
			t.Fatalf("arguments = %v", args)
		}
	})

	t.Run("nil arguments become empty object", func(t *testing.T) {
		req, err := NewCallRequest(1, "noop", nil)
		if err != nil {
			t.Fatalf("NewCallRequest: %v", err)
		}
		if string(req.Payload.Arguments) != "{}" {
			t.Fatalf("arguments = %s, want {}", req.Payload.Arguments)
		}
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewCallRequest(42, "search", map[string]any{"q": "foo"})
	if err != nil {
		t.Fatalf("NewCallRequest: %v", err)
	}
	raw, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		ID      uint64 `json:"id"`
		Payload struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Type != "request" || decoded.ID != 42 || decoded.Payload.Name != "search" {
		t.Fatalf("unexpected round trip: %+v", decoded)
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Run("result response", func(t *testing.T) {
		resp, err := Decode([]byte(`{"type":"response","id":3,"result":{"text":"hi"}}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if resp.ID != 3 || resp.Error != nil {
			t.Fatalf("unexpected response: %+v", resp)
		}
		var result map[string]string
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			t.Fatalf("Unmarshal result: %v", err)
		}
		if result["text"] != "hi" {
			t.Fatalf("result = %v", result)
		}
	})

	t.Run("error response preserves message", func(t *testing.T) {
		resp, err := Decode([]byte(`{"type":"response","id":3,"error":{"message":"boom","code":-32602}}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if resp.Error == nil || resp.Error.Message != "boom" {
			t.Fatalf("unexpected error: %+v", resp.Error)
		}
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		resp, err := Decode([]byte(`{"type":"response","id":9,"result":1,"bogus":"field"}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if resp.ID != 9 {
			t.Fatalf("resp = %+v", resp)
		}
	})
}

func TestLineFraming(t *testing.T) {
	var buf pipeBuffer
	w := NewLineWriter(&buf)
	if err := w.WriteFrame([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.WriteFrame([]byte(`{"b":2}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := NewLineReader(&buf)
	first, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(first) != `{"a":1}` {
		t.Fatalf("first = %s", first)
	}
	second, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(second) != `{"b":2}` {
		t.Fatalf("second = %s", second)
	}
}

func TestSSEFraming(t *testing.T) {
	var buf pipeBuffer
	w := NewSSEWriter(&buf)
	if err := w.WriteEvent("response", []byte(`{"type":"response","id":1,"result":{"text":"hi"}}`)); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	r := NewSSEReader(&buf)
	event, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if event != "response" {
		t.Fatalf("event = %q", event)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.ID != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

// pipeBuffer is a minimal in-memory io.ReadWriter good enough for the
// write-then-read framing tests above; bytes.Buffer alone doesn't implement
// io.Reader semantics needed for repeated partial reads safely under the
// bufio.Reader used internally, but a plain byte slice does.
type pipeBuffer struct {
	data []byte
	pos  int
}

func (p *pipeBuffer) Write(b []byte) (int, error) {
	p.data = append(p.data, b...)
	return len(b), nil
}

func (p *pipeBuffer) Read(b []byte) (int, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	n := copy(b, p.data[p.pos:])
	p.pos += n
	return n, nil
}
