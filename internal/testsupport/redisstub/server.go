// Package redisstub runs a minimal in-process Redis speaking just enough of
// the protocol for the chat log driver: list commands inside a MULTI/EXEC
// transaction, plus the handshake commands go-redis issues on connect.
package redisstub

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

type Server struct {
	listener net.Listener
	addr     string

	mu    sync.Mutex
	lists map[string][]string

	closed chan struct{}
}

// Start listens on a random loopback port and serves until Close.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		listener: ln,
		addr:     ln.Addr().String(),
		lists:    make(map[string][]string),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() {
	select {
	case <-s.closed:
		return
	default:
	}
	close(s.closed)
	s.listener.Close()
}

// List returns a copy of the stored list for assertions.
func (s *Server) List(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lists[key]...)
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	var queued [][]string
	inTx := false
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		switch strings.ToUpper(args[0]) {
		case "MULTI":
			inTx = true
			queued = queued[:0]
			writeSimple(writer, "OK")
		case "EXEC":
			replies := make([]interface{}, 0, len(queued))
			for _, cmd := range queued {
				replies = append(replies, s.execute(cmd))
			}
			inTx = false
			writeReply(writer, replies)
		case "DISCARD":
			inTx = false
			queued = queued[:0]
			writeSimple(writer, "OK")
		default:
			if inTx {
				queued = append(queued, args)
				writeSimple(writer, "QUEUED")
			} else {
				writeReply(writer, s.execute(args))
			}
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) execute(args []string) interface{} {
	switch strings.ToUpper(args[0]) {
	case "HELLO":
		// Force the client down to RESP2.
		return fmt.Errorf("ERR unknown command 'HELLO'")
	case "CLIENT":
		return "OK"
	case "PING":
		return "PONG"
	case "RPUSH":
		if len(args) < 3 {
			return fmt.Errorf("ERR wrong number of arguments for 'rpush'")
		}
		s.mu.Lock()
		s.lists[args[1]] = append(s.lists[args[1]], args[2:]...)
		length := int64(len(s.lists[args[1]]))
		s.mu.Unlock()
		return length
	case "LRANGE":
		if len(args) != 4 {
			return fmt.Errorf("ERR wrong number of arguments for 'lrange'")
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("ERR value is not an integer or out of range")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.lists[args[1]]
		start, stop = clampRange(start, stop, len(list))
		if start > stop {
			return []interface{}{}
		}
		entries := make([]interface{}, 0, stop-start+1)
		for _, value := range list[start : stop+1] {
			entries = append(entries, value)
		}
		return entries
	case "LTRIM":
		if len(args) != 4 {
			return fmt.Errorf("ERR wrong number of arguments for 'ltrim'")
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("ERR value is not an integer or out of range")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.lists[args[1]]
		start, stop = clampRange(start, stop, len(list))
		if start > stop {
			delete(s.lists, args[1])
		} else {
			s.lists[args[1]] = append([]string(nil), list[start:stop+1]...)
		}
		return "OK"
	default:
		return fmt.Errorf("ERR unknown command '%s'", args[0])
	}
}

func clampRange(start, stop, length int) (int, int) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}

func readCommand(reader *bufio.Reader) ([]string, error) {
	line, err := readLine(reader)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '*' {
		// Inline command.
		return strings.Fields(line), nil
	}
	count, err := strconv.Atoi(line[1:])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		header, err := readLine(reader)
		if err != nil {
			return nil, err
		}
		if len(header) == 0 || header[0] != '$' {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		size, err := strconv.Atoi(header[1:])
		if err != nil || size < 0 {
			return nil, fmt.Errorf("bad bulk size %q", header)
		}
		payload := make([]byte, size+2)
		if _, err := readFull(reader, payload); err != nil {
			return nil, err
		}
		args = append(args, string(payload[:size]))
	}
	return args, nil
}

func readFull(reader *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := reader.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func writeSimple(writer *bufio.Writer, value string) {
	fmt.Fprintf(writer, "+%s\r\n", value)
}

func writeReply(writer *bufio.Writer, value interface{}) {
	switch v := value.(type) {
	case nil:
		writer.WriteString("$-1\r\n")
	case error:
		fmt.Fprintf(writer, "-%s\r\n", v.Error())
	case string:
		writeSimple(writer, v)
	case int64:
		fmt.Fprintf(writer, ":%d\r\n", v)
	case []interface{}:
		fmt.Fprintf(writer, "*%d\r\n", len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				fmt.Fprintf(writer, "$%d\r\n%s\r\n", len(s), s)
				continue
			}
			writeReply(writer, entry)
		}
	default:
		fmt.Fprintf(writer, "-ERR unsupported reply type\r\n")
	}
}
