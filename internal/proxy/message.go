package proxy

import (
	"github.com/gorilla/websocket"
)

// Message is a WebSocket data frame relayed by the bridge. It is either
// Text or Binary.
type Message interface {
	// Len returns the payload size in bytes.
	Len() int
	frame() (messageType int, data []byte)
}

// Text is a UTF-8 text frame.
type Text []byte

// Len returns the payload size in bytes.
func (m Text) Len() int { return len(m) }

func (m Text) frame() (int, []byte) { return websocket.TextMessage, m }

// Binary is a binary frame.
type Binary []byte

// Len returns the payload size in bytes.
func (m Binary) Len() int { return len(m) }

func (m Binary) frame() (int, []byte) { return websocket.BinaryMessage, m }

// messageFromFrame wraps a frame read from a connection. Control frames
// are handled by the connection and never reach here.
func messageFromFrame(messageType int, data []byte) (Message, bool) {
	switch messageType {
	case websocket.TextMessage:
		return Text(data), true
	case websocket.BinaryMessage:
		return Binary(data), true
	default:
		return nil, false
	}
}
