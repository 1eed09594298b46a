package protocol

import (
	"fmt"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/jsoncodec"
)

// kindHeader reads just enough of a message to classify it. Older producers
// omit "kind", so the presence of commandName or hasError decides.
type kindHeader struct {
	Kind        *string `json:"kind"`
	CommandName *string `json:"commandName"`
	HasError    *bool   `json:"hasError"`
}

// KindOf classifies a raw message as KindCommand or KindResponse.
func KindOf(data []byte) (string, error) {
	var head kindHeader
	if err := jsoncodec.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %v", errspkg.ErrDecode, err)
	}
	if head.Kind != nil && *head.Kind != "" {
		switch *head.Kind {
		case KindCommand, KindResponse:
			return *head.Kind, nil
		default:
			return "", fmt.Errorf("%w: unknown kind %q", errspkg.ErrDecode, *head.Kind)
		}
	}
	switch {
	case head.CommandName != nil:
		return KindCommand, nil
	case head.HasError != nil:
		return KindResponse, nil
	}
	return "", fmt.Errorf("%w: cannot determine message kind", errspkg.ErrDecode)
}

// EncodeCommand serialises cmd, stamping the command kind.
func EncodeCommand(cmd *Command) ([]byte, error) {
	if cmd == nil {
		return nil, errspkg.ErrCommandRequired
	}
	out := *cmd
	out.Kind = KindCommand
	return jsoncodec.Marshal(&out)
}

// EncodeResponse serialises resp, stamping the response kind.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, errspkg.ErrResponseRequired
	}
	out := *resp
	out.Kind = KindResponse
	return jsoncodec.Marshal(&out)
}

// DecodeCommand parses a command. Every failure wraps ErrDecode.
func DecodeCommand(data []byte) (*Command, error) {
	kind, err := KindOf(data)
	if err != nil {
		return nil, err
	}
	if kind != KindCommand {
		return nil, fmt.Errorf("%w: expected %s, got %s", errspkg.ErrDecode, KindCommand, kind)
	}
	var cmd Command
	if err := jsoncodec.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrDecode, err)
	}
	cmd.Kind = KindCommand
	if err := requireIdentity(cmd.CorrelationID, cmd.TenantID); err != nil {
		return nil, err
	}
	if cmd.CommandName == "" {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrDecode, errspkg.ErrCommandNameRequired)
	}
	return &cmd, nil
}

// DecodeResponse parses a response. Every failure wraps ErrDecode.
func DecodeResponse(data []byte) (*Response, error) {
	kind, err := KindOf(data)
	if err != nil {
		return nil, err
	}
	if kind != KindResponse {
		return nil, fmt.Errorf("%w: expected %s, got %s", errspkg.ErrDecode, KindResponse, kind)
	}
	var resp Response
	if err := jsoncodec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrDecode, err)
	}
	resp.Kind = KindResponse
	if err := requireIdentity(resp.CorrelationID, resp.TenantID); err != nil {
		return nil, err
	}
	return &resp, nil
}

func requireIdentity(correlationID, tenantID string) error {
	if correlationID == "" {
		return fmt.Errorf("%w: %w", errspkg.ErrDecode, errspkg.ErrCorrelationIDRequired)
	}
	if tenantID == "" {
		return fmt.Errorf("%w: %w", errspkg.ErrDecode, errspkg.ErrTenantRequired)
	}
	return nil
}
