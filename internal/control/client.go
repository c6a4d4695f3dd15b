package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/ghostkellz/nitrogen/internal/orchestrator"
)

// connectTimeout and ioTimeout (client side) match spec §6's liveness
// check: a daemon is "up" iff a Ping round-trips within these bounds.
const connectTimeout = 5 * time.Second

// Client is a short-lived connection to a running daemon's control
// socket. Each request opens, writes, reads one response and closes;
// there is no persistent session, matching nitrogenctl's one-shot
// invocation model.
type Client struct {
	path string
}

// NewClient targets the control socket at path (use SocketPath() for
// the spec default).
func NewClient(path string) *Client {
	return &Client{path: path}
}

// send opens a fresh connection, writes req, and decodes one Response.
func (c *Client) send(req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", c.path, connectTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("control: connect to %s: %w", c.path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("control: send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, fmt.Errorf("control: read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("control: decode response: %w", err)
	}
	return resp, nil
}

// Ping reports whether the daemon answered Pong within the connect
// and io timeouts; this is the liveness probe spec §4.13 defines.
func (c *Client) Ping() error {
	resp, err := c.send(Request{Type: MsgPing})
	if err != nil {
		return err
	}
	if resp.Type != RespPong {
		return fmt.Errorf("control: unexpected ping response %q", resp.Type)
	}
	return nil
}

func (c *Client) Status() (orchestrator.Status, error) {
	resp, err := c.send(Request{Type: MsgStatus})
	if err != nil {
		return orchestrator.Status{}, err
	}
	if resp.Type == RespError {
		return orchestrator.Status{}, fmt.Errorf("control: %s", resp.Message)
	}
	if resp.Status == nil {
		return orchestrator.Status{}, fmt.Errorf("control: unexpected status response %q", resp.Type)
	}
	return *resp.Status, nil
}

func (c *Client) Stats() (orchestrator.Stats, error) {
	resp, err := c.send(Request{Type: MsgStats})
	if err != nil {
		return orchestrator.Stats{}, err
	}
	if resp.Type == RespError {
		return orchestrator.Stats{}, fmt.Errorf("control: %s", resp.Message)
	}
	if resp.Stats == nil {
		return orchestrator.Stats{}, fmt.Errorf("control: unexpected stats response %q", resp.Type)
	}
	return *resp.Stats, nil
}

// Stop requests a graceful shutdown. force selects ForceStop on the
// wire; both are answered with Stopping by the current daemon (see
// control.Server.dispatch), kept as distinct client calls so a future
// daemon revision can tell them apart without an API change here.
func (c *Client) Stop(force bool) error {
	msg := MsgStop
	if force {
		msg = MsgForceStop
	}
	resp, err := c.send(Request{Type: msg})
	if err != nil {
		return err
	}
	if resp.Type == RespError {
		return fmt.Errorf("control: %s", resp.Message)
	}
	if resp.Type != RespStopping {
		return fmt.Errorf("control: unexpected stop response %q", resp.Type)
	}
	return nil
}
