package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/protocol"
)

var errNoAgent = errors.New("--agent is required")

// agentClient sends one command and waits on the mailbox for its reply.
type agentClient struct {
	opts *options
	http *http.Client
}

func newAgentClient(opts *options) (*agentClient, error) {
	if opts.agent == "" {
		return nil, errNoAgent
	}
	if err := domain.ValidateAgentAddress(opts.agent); err != nil {
		return nil, fmt.Errorf("--agent: %w", err)
	}
	return &agentClient{opts: opts, http: &http.Client{Timeout: opts.timeout}}, nil
}

// call submits md and returns the response metadata. The mailbox is opened
// first so the reply cannot arrive before anyone listens.
func (c *agentClient) call(ctx context.Context, md map[string]string, notify func(map[string]string)) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	conn, err := c.dialMailbox(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	msg := protocol.NewMetadataMessage(time.Now(), md)
	session := msg.MsgID.String()
	env, err := protocol.Seal(c.opts.agent, c.opts.target, session, msg)
	if err != nil {
		return nil, err
	}
	if err := c.submit(ctx, env); err != nil {
		return nil, err
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for reply: %w", err)
		}
		var in protocol.Envelope
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		reply, err := in.Message()
		if err != nil {
			continue
		}
		replyMD, err := reply.Metadata()
		if err != nil {
			continue
		}
		if in.Session != session {
			if notify != nil {
				notify(replyMD)
			}
			continue
		}
		return replyMD, nil
	}
}

func (c *agentClient) dialMailbox(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/mailbox"
	u.RawQuery = url.Values{"address": {c.opts.agent}}.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: c.authHeader()})
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	return conn, nil
}

func (c *agentClient) submit(ctx context.Context, env *protocol.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.opts.baseURL, "/")+"/submit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = c.authHeader()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("submit: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

func (c *agentClient) authHeader() http.Header {
	h := http.Header{}
	if c.opts.token != "" {
		h.Set("Authorization", "Bearer "+c.opts.token)
	}
	return h
}

// getJSON fetches an operator endpoint.
func getJSON(ctx context.Context, opts *options, path string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(opts.baseURL, "/")+path, nil)
	if err != nil {
		return 0, err
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.StatusCode, nil
}
