// Package transports imports all built-in transports for side-effect
// registration with the default registry.
package transports

import (
	_ "github.com/drblury/replybridge/transport/aws"
	_ "github.com/drblury/replybridge/transport/channel"
	_ "github.com/drblury/replybridge/transport/kafka"
	_ "github.com/drblury/replybridge/transport/nats"
	_ "github.com/drblury/replybridge/transport/rabbitmq"
)
