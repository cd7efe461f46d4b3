package control

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"register", Register{VideoPort: 8890}},
		{"register ack", RegisterAck{Status: StatusSuccess, TotalChunks: 42, ChunkDuration: 2.0}},
		{"register ack non-chunked", RegisterAck{Status: StatusSuccess}},
		{"quality request", QualityRequest{Level: "720p"}},
		{"quality ack", QualityAck{Level: "720p"}},
		{"chunk request", ChunkRequest{ChunkID: 7}},
		{"chunk request zero", ChunkRequest{ChunkID: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, byte('\n'), data[len(data)-1])

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = Decode([]byte(`{"type":`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestConnReadSkipsMalformedRecords(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewConn(server)

	go func() {
		client.Write([]byte("garbage line\n"))
		client.Write([]byte(`{"type":"warp_drive"}` + "\n"))
		data, _ := Encode(QualityRequest{Level: "480p"})
		client.Write(data)
	}()

	msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, QualityRequest{Level: "480p"}, msg)
}

func TestConnDiscardsOversizedRecord(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewConn(server)

	go func() {
		// One record three times the cap, no newline until the end.
		blob := bytes.Repeat([]byte{'x'}, 3*maxLineBytes)
		client.Write(blob)
		client.Write([]byte{'\n'})
		data, _ := Encode(QualityRequest{Level: "480p"})
		client.Write(data)
	}()

	msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, QualityRequest{Level: "480p"}, msg)
}

func TestConnOversizedRecordWithoutNewlineReturnsIOError(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	conn := NewConn(server)

	go func() {
		client.Write(bytes.Repeat([]byte{'x'}, 2*maxLineBytes))
		client.Close()
	}()

	// The connection ends mid-record; the drain surfaces the I/O error
	// instead of waiting forever.
	_, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestConnRoundTripOverPipe(t *testing.T) {
	client, server := net.Pipe()
	serverConn := NewConn(server)
	clientConn := NewConn(client)
	defer serverConn.Close()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, err := serverConn.ReadMessage()
		require.NoError(t, err)
		require.IsType(t, Register{}, msg)
		err = serverConn.WriteMessage(RegisterAck{
			Status:        StatusSuccess,
			TotalChunks:   10,
			ChunkDuration: 2.0,
		})
		require.NoError(t, err)
	}()

	require.NoError(t, clientConn.WriteMessage(Register{VideoPort: 9000}))

	reply, err := clientConn.ReadMessage()
	require.NoError(t, err)
	ack, ok := reply.(RegisterAck)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, ack.Status)
	assert.Equal(t, uint32(10), ack.TotalChunks)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server side did not finish")
	}
}

func TestConnReadReturnsIOError(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConn(server)

	client.Close()
	_, err := conn.ReadMessage()
	assert.Error(t, err)
}
