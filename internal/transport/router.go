// Package transport binds the protocol to a ZeroMQ ROUTER socket.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/Nanoseb/BlenderRemoteRender/internal/protocol"
)

// Socket is the message endpoint used by the session loop.
type Socket interface {
	Recv() (protocol.Message, error)
	Send(protocol.Message) error
	Close() error
}

// Router is a ROUTER socket: every inbound message is prefixed by the
// sender's identity frame, and outbound messages are routed by it.
type Router struct {
	sock zmq4.Socket
}

var _ Socket = (*Router)(nil)

// Listen binds a ROUTER socket to endpoint, e.g. "tcp://*:31416".
func Listen(ctx context.Context, endpoint string) (*Router, error) {
	sock := zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity("render-server")))
	if err := sock.Listen(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}
	return &Router{sock: sock}, nil
}

// Recv blocks until a complete multipart message arrives.
func (r *Router) Recv() (protocol.Message, error) {
	msg, err := r.sock.Recv()
	if err != nil {
		return protocol.Message{}, err
	}
	if len(msg.Frames) == 0 {
		return protocol.Message{}, errors.New("received message without identity frame")
	}
	return protocol.Message{Identity: msg.Frames[0], Frames: msg.Frames[1:]}, nil
}

// Send routes m to m.Identity.
func (r *Router) Send(m protocol.Message) error {
	frames := make([][]byte, 0, len(m.Frames)+1)
	frames = append(frames, m.Identity)
	frames = append(frames, m.Frames...)
	return r.sock.Send(zmq4.NewMsgFrom(frames...))
}

// Addr returns the bound address.
func (r *Router) Addr() string {
	if a := r.sock.Addr(); a != nil {
		return a.String()
	}
	return ""
}

func (r *Router) Close() error {
	return r.sock.Close()
}
