// Package control implements the daemon's control-plane protocol: a
// newline-delimited JSON request/response exchange over a Unix domain
// socket, used by nitrogenctl (or any other local client) to query and
// stop a running nitrogend session.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/ghostkellz/nitrogen/internal/orchestrator"
)

// Request message types. The wire shape is a flat JSON object tagged
// by "type", mirroring the daemon-side protocol this was ported from;
// none of these carry a payload beyond the tag.
const (
	MsgPing      = "Ping"
	MsgStatus    = "Status"
	MsgStats     = "Stats"
	MsgStop      = "Stop"
	MsgForceStop = "ForceStop"
)

// Response message types.
const (
	RespOk       = "Ok"
	RespPong     = "Pong"
	RespError    = "Error"
	RespStatus   = "Status"
	RespStats    = "Stats"
	RespStopping = "Stopping"
)

// Request is a client-to-daemon message. Type is the only field every
// variant uses; it's a struct rather than a bare string so adding a
// payload to a future message type doesn't change the wire shape of
// existing ones.
type Request struct {
	Type string `json:"type"`
}

// Response is a daemon-to-client message. Marshal/Unmarshal flatten
// the payload fields alongside the "type" tag instead of nesting them,
// matching the internally-tagged enum encoding this protocol was
// ported from.
type Response struct {
	Type    string
	Message string
	Status  *orchestrator.Status
	Stats   *orchestrator.Stats
}

func OkResponse() Response       { return Response{Type: RespOk} }
func PongResponse() Response     { return Response{Type: RespPong} }
func StoppingResponse() Response { return Response{Type: RespStopping} }

func ErrorResponse(format string, args ...any) Response {
	return Response{Type: RespError, Message: fmt.Sprintf(format, args...)}
}

func StatusResponse(s orchestrator.Status) Response {
	return Response{Type: RespStatus, Status: &s}
}

func StatsResponse(s orchestrator.Stats) Response {
	return Response{Type: RespStats, Stats: &s}
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case RespError:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{r.Type, r.Message})
	case RespStatus:
		return json.Marshal(struct {
			Type string `json:"type"`
			orchestrator.Status
		}{r.Type, *r.Status})
	case RespStats:
		return json.Marshal(struct {
			Type string `json:"type"`
			orchestrator.Stats
		}{r.Type, *r.Stats})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{r.Type})
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	r.Type = tag.Type

	switch tag.Type {
	case RespError:
		var v struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.Message = v.Message
	case RespStatus:
		var v orchestrator.Status
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.Status = &v
	case RespStats:
		var v orchestrator.Stats
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.Stats = &v
	}
	return nil
}
