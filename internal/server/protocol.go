package server

import (
	"bufio"
	"bytes"
	"net"
	"time"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

func (p protocolType) String() string {
	if p == protocolHTTP {
		return "websocket"
	}
	return "tcp"
}

// detectProtocol peeks at the first bytes to determine protocol type.
// Frames always start with a lower case command, so only a leading "GET "
// (the upgrade request) is treated as HTTP. The returned reader holds the
// peeked bytes and must be used for all further reads.
func detectProtocol(conn net.Conn, timeout time.Duration) (protocolType, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	first, err := reader.Peek(1)
	if err != nil {
		return protocolTCP, reader, err
	}
	if first[0] != 'G' {
		return protocolTCP, reader, nil
	}

	peek, err := reader.Peek(4)
	if err != nil {
		return protocolTCP, reader, err
	}
	if bytes.Equal(peek, []byte("GET ")) {
		return protocolHTTP, reader, nil
	}
	return protocolTCP, reader, nil
}
