package handlers

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/protocol"
)

// CommandHandler runs a command on the agent side. A returned error becomes
// an error response. Returning (nil, nil) means the handler replies on its
// own through the broker's SendResponse.
type CommandHandler func(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error)

// JSONCommandFunc receives decoded arguments and returns a result that is
// marshalled into the response payload.
type JSONCommandFunc[A any, R any] func(ctx context.Context, cmd *protocol.Command, args A) (R, error)

// BuildJSONCommandHandler converts a typed function into a CommandHandler.
// Arguments that fail to decode produce an error response wrapping ErrDecode.
func BuildJSONCommandHandler[A any, R any](fn JSONCommandFunc[A, R]) (CommandHandler, error) {
	if fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	return func(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
		var args A
		if err := cmd.DecodeArguments(&args); err != nil {
			return nil, err
		}

		result, err := fn(ctx, cmd, args)
		if err != nil {
			return nil, err
		}

		resp, err := protocol.NewResponse(cmd, result)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd.CommandName, err)
		}
		return resp, nil
	}, nil
}
