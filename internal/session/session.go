// Package session runs the single-client protocol loop: it owns the socket,
// binds the first client that completes a handshake, and routes that
// client's messages to file transfer and the render backend.
//
// Messages are processed strictly one at a time in arrival order. While a
// client is bound, messages from any other identity are read and dropped
// without a reply or any change to session state.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
	"github.com/Nanoseb/BlenderRemoteRender/internal/events"
	"github.com/Nanoseb/BlenderRemoteRender/internal/log"
	"github.com/Nanoseb/BlenderRemoteRender/internal/protocol"
	"github.com/Nanoseb/BlenderRemoteRender/internal/transfer"
	"github.com/Nanoseb/BlenderRemoteRender/internal/transport"
)

// ErrProtocol marks a message that could not be acted upon.
var ErrProtocol = errors.New("protocol error")

type Session struct {
	socket  transport.Socket
	backend backend.Backend
	files   *transfer.Store
	events  events.Publisher
	logger  *slog.Logger

	identity  []byte
	connected bool
	client    *slog.Logger
}

func New(sock transport.Socket, be backend.Backend, files *transfer.Store, pub events.Publisher) *Session {
	return &Session{
		socket:  sock,
		backend: be,
		files:   files,
		events:  pub,
		logger:  log.WithComponent("session"),
	}
}

// Connected reports whether a client is bound.
func (s *Session) Connected() bool { return s.connected }

// Identity returns the bound client identity, or nil.
func (s *Session) Identity() []byte { return s.identity }

// Run receives and handles messages until ctx is cancelled or the socket fails.
// Cancelling ctx closes the socket to unblock a pending receive.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session loop started", "backend", s.backend.Kind())
	defer s.logger.Info("session loop stopped")

	stop := context.AfterFunc(ctx, func() {
		_ = s.socket.Close()
	})
	defer stop()

	for {
		msg, err := s.socket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err := s.handleRecovered(ctx, msg); err != nil {
			s.logger.Warn("message ignored", "header", msg.Header(), "error", err)
		}
	}
}

// handleRecovered runs Handle, converting a panic into an error so one bad
// message cannot take the server down.
func (s *Session) handleRecovered(ctx context.Context, msg protocol.Message) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("message handler panicked",
				"header", msg.Header(), "panic", r, "stack", string(debug.Stack()))
			retErr = fmt.Errorf("panic handling %s: %v", msg.Header(), r)
		}
	}()
	return s.Handle(ctx, msg)
}

// Handle processes one message. Returned errors are informational: the
// session keeps running regardless.
func (s *Session) Handle(ctx context.Context, msg protocol.Message) error {
	if s.connected && !bytes.Equal(msg.Identity, s.identity) {
		s.logger.Warn("rejecting message from second client",
			"client", log.FormatIdentity(msg.Identity), "header", msg.Header())
		s.publish(events.SessionRejected, map[string]string{"client": log.FormatIdentity(msg.Identity)})
		return nil
	}

	switch header := msg.Header(); header {
	case protocol.Ping:
		return s.handlePing(msg)
	case protocol.CloseConnection:
		s.handleClose(msg)
		return nil
	case protocol.File:
		return s.handleFile(msg)
	case protocol.BackendConfig:
		return s.handleConfig(msg)
	case protocol.StartRender:
		return s.handleStartRender(ctx, msg)
	case protocol.GetRenderOutput:
		return s.handleGetOutput(msg)
	default:
		return fmt.Errorf("%w: command not recognised: %q", ErrProtocol, header)
	}
}

func (s *Session) handlePing(msg protocol.Message) error {
	if err := s.send(protocol.NewMessage(msg.Identity, protocol.Pong)); err != nil {
		return err
	}
	if s.connected {
		return nil
	}

	s.identity = bytes.Clone(msg.Identity)
	s.connected = true
	s.client = log.WithSession(s.identity).With("component", "session")
	s.client.Info("client connected")
	s.publish(events.SessionConnected, map[string]string{"client": log.FormatIdentity(s.identity)})

	reply, err := protocol.NewJSONMessage(s.identity, protocol.BackendConfig, s.backend.Schema())
	if err != nil {
		return err
	}
	return s.send(reply)
}

func (s *Session) handleClose(msg protocol.Message) {
	s.logger.Info("client disconnected", "client", log.FormatIdentity(msg.Identity))
	s.publish(events.SessionClosed, map[string]string{"client": log.FormatIdentity(msg.Identity)})
	s.connected = false
	s.identity = nil
	s.client = nil
}

func (s *Session) handleFile(msg protocol.Message) error {
	path, err := msg.StringArg(0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	data, ok := msg.Arg(1)
	if !ok {
		return fmt.Errorf("%w: file %q has no content frame", ErrProtocol, path)
	}

	digest, err := s.files.Put(path, data)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	s.log().Info("file written", "path", path, "bytes", len(data), "blake3", digest)
	s.publish(events.FileReceived, map[string]any{"path": path, "bytes": len(data), "blake3": digest})

	return s.send(protocol.NewMessage(msg.Identity, protocol.FileAck))
}

func (s *Session) handleConfig(msg protocol.Message) error {
	values, err := msg.DecodeObject(0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := s.backend.MergeConfig(values); err != nil {
		s.log().Error("backend config rejected", "error", err)
		s.publish(events.ConfigRejected, map[string]string{"error": err.Error()})
		return nil
	}
	s.log().Debug("backend config merged", "keys", len(values))
	s.publish(events.ConfigMerged, map[string]int{"keys": len(values)})
	return nil
}

func (s *Session) handleStartRender(ctx context.Context, msg protocol.Message) error {
	blendFile, err := msg.StringArg(0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	sub, err := s.backend.StartRender(ctx, blendFile)
	if err != nil {
		var subErr *backend.SubmissionError
		if errors.As(err, &subErr) {
			s.log().Error("error with starting renders",
				"blend_file", blendFile, "attempt", subErr.Attempt,
				"exit_code", subErr.ExitCode, "error", subErr.Message)
		} else {
			s.log().Error("error with starting renders", "blend_file", blendFile, "error", err)
		}
		s.publish(events.RenderFailed, map[string]string{"blend_file": blendFile, "error": err.Error()})
		return nil
	}

	s.log().Info("renders in progress", "export_path", sub.ExportPath, "jobs", len(sub.JobIDs))
	s.publish(events.RenderSubmitted, map[string]any{
		"blend_file": blendFile, "export_path": sub.ExportPath, "job_ids": sub.JobIDs,
	})
	return nil
}

func (s *Session) handleGetOutput(msg protocol.Message) error {
	exportPath, err := msg.StringArg(0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	files, err := s.backend.ListRenderedOutputs(exportPath)
	if err != nil {
		return fmt.Errorf("list outputs for %s: %w", exportPath, err)
	}
	s.log().Info("sending files to client", "export_path", exportPath, "count", len(files))

	sent := 0
	for _, path := range files {
		data, err := s.files.Get(path)
		if err != nil {
			s.log().Error("failed to read output", "path", path, "error", err)
			continue
		}
		if err := s.send(protocol.NewFileMessage(msg.Identity, path, data)); err != nil {
			return err
		}
		sent++
	}
	s.publish(events.RenderOutputsServed, map[string]any{"export_path": exportPath, "files": sent})
	return nil
}

// log returns the bound client's logger, or the session logger before a handshake.
func (s *Session) log() *slog.Logger {
	if s.client != nil {
		return s.client
	}
	return s.logger
}

func (s *Session) send(m protocol.Message) error {
	if err := s.socket.Send(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Header(), err)
	}
	return nil
}

func (s *Session) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}
