// Package protocol is the JSON exchange on the daemon's status socket.
package protocol

import (
	"encoding/json"
	"io"
)

type Action string

const (
	ActionStatus Action = "STATUS"
)

type Req struct {
	Action Action            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

type Res struct {
	Status Status            `json:"status"`
	Error  string            `json:"error,omitempty"`
	Extras map[string]string `json:"extras,omitempty"`
}

func ReadReq(r io.Reader) (*Req, error) {
	var req Req
	err := json.NewDecoder(r).Decode(&req)
	return &req, err
}

func ReadRes(r io.Reader) (*Res, error) {
	var res Res
	err := json.NewDecoder(r).Decode(&res)
	return &res, err
}

func WriteStatusReq(w io.Writer) error {
	return json.NewEncoder(w).Encode(&Req{Action: ActionStatus})
}

func WriteSuccessRes(w io.Writer, extras map[string]string) error {
	res := Res{
		Status: StatusSuccess,
		Extras: extras,
	}
	return json.NewEncoder(w).Encode(&res)
}

func WriteErrorRes(w io.Writer, err error) error {
	res := Res{
		Status: StatusError,
		Error:  err.Error(),
	}
	return json.NewEncoder(w).Encode(&res)
}
