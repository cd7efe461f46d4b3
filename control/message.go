// Package control implements the reliable, message-oriented side
// channel between a streaming client and the server.
//
// Messages are newline-delimited JSON records over a TCP connection.
// Each record carries a type discriminator and the fields of exactly
// one message variant; decoding produces a typed message so callers
// switch on concrete types rather than inspecting raw maps. A client
// registers once, then issues quality and chunk requests; the server
// acknowledges registration and quality changes.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType discriminates the control message variants on the wire.
type MessageType string

const (
	// TypeRegister announces a client and its video endpoint.
	TypeRegister MessageType = "register"
	// TypeRegisterAck confirms registration and describes the media.
	TypeRegisterAck MessageType = "register_ack"
	// TypeQualityRequest asks the server to switch quality level.
	TypeQualityRequest MessageType = "quality_request"
	// TypeQualityAck confirms the active quality level.
	TypeQualityAck MessageType = "quality_ack"
	// TypeChunkRequest seeks the client's playback position. It is
	// not acknowledged.
	TypeChunkRequest MessageType = "chunk_request"
)

// StatusSuccess is the RegisterAck status for an accepted client.
const StatusSuccess = "success"

// ErrUnknownMessage indicates a record whose type discriminator maps
// to no known variant.
var ErrUnknownMessage = errors.New("unknown control message type")

// Message is implemented by every control message variant.
type Message interface {
	Type() MessageType
}

// Register announces a client. VideoPort is the UDP port the client
// listens on for video datagrams; the server pairs it with the source
// IP of the control connection.
type Register struct {
	VideoPort int `json:"video_port"`
}

// Type returns TypeRegister.
func (Register) Type() MessageType { return TypeRegister }

// RegisterAck confirms registration. TotalChunks is zero for a
// non-chunked source; ChunkDuration is in seconds.
type RegisterAck struct {
	Status        string  `json:"status"`
	TotalChunks   uint32  `json:"total_chunks"`
	ChunkDuration float64 `json:"chunk_duration"`
}

// Type returns TypeRegisterAck.
func (RegisterAck) Type() MessageType { return TypeRegisterAck }

// QualityRequest asks for a level change.
type QualityRequest struct {
	Level string `json:"level"`
}

// Type returns TypeQualityRequest.
func (QualityRequest) Type() MessageType { return TypeQualityRequest }

// QualityAck confirms the level now being served.
type QualityAck struct {
	Level string `json:"level"`
}

// Type returns TypeQualityAck.
func (QualityAck) Type() MessageType { return TypeQualityAck }

// ChunkRequest moves the client's playback position.
type ChunkRequest struct {
	ChunkID uint32 `json:"chunk_id"`
}

// Type returns TypeChunkRequest.
func (ChunkRequest) Type() MessageType { return TypeChunkRequest }

// envelope is the union of every variant's fields plus the type tag.
type envelope struct {
	Type          MessageType `json:"type"`
	VideoPort     int         `json:"video_port,omitempty"`
	Status        string      `json:"status,omitempty"`
	TotalChunks   uint32      `json:"total_chunks,omitempty"`
	ChunkDuration float64     `json:"chunk_duration,omitempty"`
	Level         string      `json:"level,omitempty"`
	ChunkID       uint32      `json:"chunk_id"`
}

// Encode serializes a message as one newline-terminated JSON record.
func Encode(msg Message) ([]byte, error) {
	env := envelope{Type: msg.Type()}

	switch m := msg.(type) {
	case Register:
		env.VideoPort = m.VideoPort
	case *Register:
		env.VideoPort = m.VideoPort
	case RegisterAck:
		env.Status = m.Status
		env.TotalChunks = m.TotalChunks
		env.ChunkDuration = m.ChunkDuration
	case *RegisterAck:
		env.Status = m.Status
		env.TotalChunks = m.TotalChunks
		env.ChunkDuration = m.ChunkDuration
	case QualityRequest:
		env.Level = m.Level
	case *QualityRequest:
		env.Level = m.Level
	case QualityAck:
		env.Level = m.Level
	case *QualityAck:
		env.Level = m.Level
	case ChunkRequest:
		env.ChunkID = m.ChunkID
	case *ChunkRequest:
		env.ChunkID = m.ChunkID
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode control message: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one JSON record into its typed message variant.
func Decode(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("decode control message: %w", err)
	}

	switch env.Type {
	case TypeRegister:
		return Register{VideoPort: env.VideoPort}, nil
	case TypeRegisterAck:
		return RegisterAck{
			Status:        env.Status,
			TotalChunks:   env.TotalChunks,
			ChunkDuration: env.ChunkDuration,
		}, nil
	case TypeQualityRequest:
		return QualityRequest{Level: env.Level}, nil
	case TypeQualityAck:
		return QualityAck{Level: env.Level}, nil
	case TypeChunkRequest:
		return ChunkRequest{ChunkID: env.ChunkID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}
