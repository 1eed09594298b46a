package runtime

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/replybridge/internal/runtime/handlers"
	"github.com/drblury/replybridge/internal/runtime/protocol"
)

// RegisterJSONHandler registers fn for commands named name. Arguments are
// decoded into A and the returned R becomes the response payload. A returned
// error is sent back as an error response.
func RegisterJSONHandler[A any, R any](b *ClientBroker, name string, fn handlerpkg.JSONCommandFunc[A, R]) error {
	h, err := handlerpkg.BuildJSONCommandHandler(fn)
	if err != nil {
		return err
	}
	return b.Handle(name, h)
}

// SendJSON sends command name with args to tenantID and decodes the reply
// payload into R. An error response from the agent wraps ErrCommandFailed.
func SendJSON[R any](ctx context.Context, b *ServerBroker, tenantID, name string, args any) (R, error) {
	var out R
	if b == nil {
		return out, errspkg.ErrServiceRequired
	}
	cmd := protocol.NewCommand(tenantID, name)
	if args != nil {
		if _, err := cmd.WithArguments(args); err != nil {
			return out, err
		}
	}

	resp, err := b.SendCommand(ctx, cmd)
	if err != nil {
		return out, err
	}
	if resp.HasError {
		return out, fmt.Errorf("%w: %s: %s", errspkg.ErrCommandFailed, name, resp.Error)
	}
	if err := resp.DecodePayload(&out); err != nil {
		return out, err
	}
	return out, nil
}
