// Package protocol defines the command and response envelopes exchanged
// between the server broker and tenant agents, their JSON wire form and the
// channel naming scheme.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/ids"
	"github.com/drblury/replybridge/internal/runtime/jsoncodec"
	"github.com/drblury/replybridge/internal/runtime/metadata"
)

// Message kinds written to the "kind" discriminator.
const (
	KindCommand  = "command"
	KindResponse = "response"
)

// ResponseChannel is the shared channel every agent replies on.
const ResponseChannel = "responses"

const commandChannelSuffix = "-commands"

// CommandChannel names the channel a tenant's agent consumes commands from.
func CommandChannel(tenantID string) string {
	return tenantID + commandChannelSuffix
}

// Command asks a tenant agent to run a named operation.
type Command struct {
	Kind                string          `json:"kind"`
	CorrelationID       string          `json:"correlationId"`
	TenantID            string          `json:"tenantId"`
	CommandName         string          `json:"commandName"`
	ReplyPartitionHints []string        `json:"partitions,omitempty"`
	Arguments           json.RawMessage `json:"arguments,omitempty"`
	SentAt              time.Time       `json:"sentAt"`
}

// Response answers a Command. CorrelationID and TenantID are copied from the
// command it answers.
type Response struct {
	Kind          string          `json:"kind"`
	CorrelationID string          `json:"correlationId"`
	TenantID      string          `json:"tenantId"`
	HasError      bool            `json:"hasError"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// NewCommand builds a command with a fresh correlation id.
func NewCommand(tenantID, commandName string) *Command {
	return &Command{
		Kind:          KindCommand,
		CorrelationID: ids.NewCorrelationID(),
		TenantID:      tenantID,
		CommandName:   commandName,
		SentAt:        time.Now().UTC(),
	}
}

// WithArguments marshals args into the command and returns it.
func (c *Command) WithArguments(args any) (*Command, error) {
	raw, err := jsoncodec.Raw(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments for %s: %w", c.CommandName, err)
	}
	c.Arguments = raw
	return c, nil
}

// DecodeArguments unmarshals the command arguments into v. Missing arguments
// leave v untouched.
func (c *Command) DecodeArguments(v any) error {
	if len(c.Arguments) == 0 {
		return nil
	}
	if err := jsoncodec.Unmarshal(c.Arguments, v); err != nil {
		return fmt.Errorf("%w: arguments of %s: %v", errspkg.ErrDecode, c.CommandName, err)
	}
	return nil
}

// Metadata returns the headers published alongside the command.
func (c *Command) Metadata() metadata.Metadata {
	return metadata.New(
		metadata.KeyCorrelationID, c.CorrelationID,
		metadata.KeyTenantID, c.TenantID,
		metadata.KeyMessageKind, KindCommand,
		metadata.KeyCommandName, c.CommandName,
	)
}

// NewResponse answers cmd with payload marshalled as JSON.
func NewResponse(cmd *Command, payload any) (*Response, error) {
	if cmd == nil {
		return nil, errspkg.ErrCommandRequired
	}
	raw, err := jsoncodec.Raw(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", cmd.CommandName, err)
	}
	return &Response{
		Kind:          KindResponse,
		CorrelationID: cmd.CorrelationID,
		TenantID:      cmd.TenantID,
		Payload:       raw,
	}, nil
}

// NewErrorResponse answers cmd with a failure.
func NewErrorResponse(cmd *Command, err error) *Response {
	resp := &Response{Kind: KindResponse, HasError: true}
	if cmd != nil {
		resp.CorrelationID = cmd.CorrelationID
		resp.TenantID = cmd.TenantID
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// DecodePayload unmarshals the response payload into v.
func (r *Response) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	if err := jsoncodec.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("%w: response payload: %v", errspkg.ErrDecode, err)
	}
	return nil
}

// Metadata returns the headers published alongside the response.
func (r *Response) Metadata() metadata.Metadata {
	return metadata.New(
		metadata.KeyCorrelationID, r.CorrelationID,
		metadata.KeyTenantID, r.TenantID,
		metadata.KeyMessageKind, KindResponse,
	)
}
