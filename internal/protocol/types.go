// Package protocol defines the multipart message format exchanged with the
// client add-on: [identity][header][payload...], where identity is the opaque
// routing token assigned by the transport.
package protocol

// Message headers.
const (
	Ping            = "ping"
	Pong            = "pong"
	CloseConnection = "close_connection"
	File            = "file"
	FileAck         = "file_ack"
	BackendConfig   = "backend_config"
	StartRender     = "start_render"
	GetRenderOutput = "get_render_output"
)

// Message is one multipart frame set. Frames[0] is the header.
type Message struct {
	Identity []byte
	Frames   [][]byte
}

// Header returns the header frame as text, or "" for an empty message.
func (m Message) Header() string {
	if len(m.Frames) == 0 {
		return ""
	}
	return string(m.Frames[0])
}

// Arg returns payload frame i (0 is the first frame after the header).
func (m Message) Arg(i int) ([]byte, bool) {
	if i < 0 || i+1 >= len(m.Frames) {
		return nil, false
	}
	return m.Frames[i+1], true
}
