// Package rpc defines the wire protocol exchanged between a ToolClient and a
// tool server, and the two line/event framings it travels over. The shape is
// bit-exact: {"type":"request","id":...,"payload":{"type":"callTool","name":...,
// "arguments":...}} out, {"type":"response","id":...,"result":...} or
// {"type":"response","id":...,"error":{"message":...}} back. Unknown fields
// are ignored by design (json.Unmarshal already does this).
package rpc

import "encoding/json"

// Request is the envelope sent to a tool server to invoke a tool.
type Request struct {
	Type    string      `json:"type"`
	ID      uint64      `json:"id"`
	Payload CallPayload `json:"payload"`
}

// CallPayload is the only payload shape this module sends: a tool invocation.
type CallPayload struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// NewCallRequest builds a Request for a callTool payload, marshaling
// arguments to JSON. A nil arguments value is sent as an empty object.
func NewCallRequest(id uint64, name string, arguments any) (Request, error) {
	var raw json.RawMessage
	if arguments == nil {
		raw = json.RawMessage("{}")
	} else {
		b, err := json.Marshal(arguments)
		if err != nil {
			return Request{}, err
		}
		raw = b
	}
	return Request{
		Type: "request",
		ID:   id,
		Payload: CallPayload{
			Type:      "callTool",
			Name:      name,
			Arguments: raw,
		},
	}, nil
}

// Response is the envelope a tool server sends back. Exactly one of Result
// and Error is populated on a well-formed response.
type Response struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the server-reported failure payload. Message is the only field
// spec.md requires; Code is a commonly-sent extra (JSON-RPC-flavored servers
// send -32602 for invalid params) used only to classify the failure, never
// required to be present. Data carries the full raw object so callers that
// need some other extra field can inspect it without the codec knowing
// about it.
type Error struct {
	Message string          `json:"message"`
	Code    int             `json:"code,omitempty"`
	Data    json.RawMessage `json:"-"`
}

// UnmarshalJSON captures Message/Code normally and stashes the full raw
// object in Data so callers can pull out server-specific fields beyond those.
func (e *Error) UnmarshalJSON(b []byte) error {
	type alias struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	e.Message = a.Message
	e.Code = a.Code
	e.Data = append(json.RawMessage(nil), b...)
	return nil
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Encode marshals a Request to its canonical JSON document.
func Encode(req Request) ([]byte, error) {
	return json.Marshal(req)
}

// Decode unmarshals a single JSON document into a Response. Unknown fields
// are silently dropped, as required by §6.
func Decode(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
