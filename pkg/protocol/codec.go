package protocol

import (
	"encoding/json"
	"fmt"
)

// EncodeUp wraps an UpMessage in the current envelope version (§6, §9).
func EncodeUp(msg UpMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal up message: %w", err)
	}
	return json.Marshal(Envelope{V0: payload})
}

// DecodeUp accepts any known envelope version and returns the wrapped
// UpMessage (§6: "readers accept any known version").
func DecodeUp(data []byte) (UpMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return UpMessage{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(env.V0) == 0 {
		return UpMessage{}, fmt.Errorf("unrecognized envelope version")
	}
	var msg UpMessage
	if err := json.Unmarshal(env.V0, &msg); err != nil {
		return UpMessage{}, fmt.Errorf("unmarshal up message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return UpMessage{}, err
	}
	return msg, nil
}

// EncodeDown wraps a DownMessage in the current envelope version.
func EncodeDown(msg DownMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal down message: %w", err)
	}
	return json.Marshal(Envelope{V0: payload})
}

// DecodeDown accepts any known envelope version and returns the
// wrapped DownMessage.
func DecodeDown(data []byte) (DownMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return DownMessage{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(env.V0) == 0 {
		return DownMessage{}, fmt.Errorf("unrecognized envelope version")
	}
	var msg DownMessage
	if err := json.Unmarshal(env.V0, &msg); err != nil {
		return DownMessage{}, fmt.Errorf("unmarshal down message: %w", err)
	}
	return msg, nil
}

// down builds a DownMessage from a typed result. A value that cannot
// be marshaled (a programmer error, never user input) yields a fatal
// Down_error message instead; down never panics.
func down(t DownType, v interface{}) DownMessage {
	payload, err := json.Marshal(v)
	if err != nil {
		return down(DownError, ErrorResult{Kind: "fatal", Detail: err.Error()})
	}
	return DownMessage{Type: t, Params: payload}
}

func errorDown(kind, detail string, exposeDetail bool) DownMessage {
	res := ErrorResult{Kind: kind}
	if exposeDetail {
		res.Detail = detail
	}
	return down(DownError, res)
}
