// Package rsptest provides an in-process fake of the fs-uae debug stub for
// tests.
package rsptest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Stub 在回环地址上模拟fs-uae的调试桩
// 收到的命令按On设置的回复应答，未设置的命令回复空包
type Stub struct {
	t        *testing.T
	listener net.Listener

	lock     sync.Mutex
	replies  map[string][]string
	silent   map[string]bool
	received []string
	conn     net.Conn
	noAck    bool
	commands chan string
}

func NewStub(t *testing.T) *Stub {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &Stub{
		t:        t,
		listener: l,
		replies:  map[string][]string{},
		silent:   map[string]bool{},
		commands: make(chan string, 1024),
	}
	go s.serve()
	t.Cleanup(func() {
		_ = l.Close()
		s.Disconnect()
	})
	return s
}

func (s *Stub) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// CloseListener 停止接受连接
func (s *Stub) CloseListener() {
	_ = s.listener.Close()
}

// On 设置命令的回复，多个回复按顺序使用，最后一个一直有效
func (s *Stub) On(command string, replies ...string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.replies[command] = replies
	delete(s.silent, command)
}

// Silence 收到该命令后不回复
func (s *Stub) Silence(command string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.silent[command] = true
}

func (s *Stub) Received() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.received...)
}

func (s *Stub) Count(command string) int {
	n := 0
	for _, c := range s.Received() {
		if c == command {
			n++
		}
	}
	return n
}

// Push 主动发送一个包
func (s *Stub) Push(payload string) {
	s.lock.Lock()
	conn := s.conn
	s.lock.Unlock()
	require.NotNil(s.t, conn)
	_, err := conn.Write([]byte(Frame(payload)))
	require.NoError(s.t, err)
}

// WaitFor 等待收到指定命令
func (s *Stub) WaitFor(command string) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-s.commands:
			if c == command {
				return
			}
		case <-timeout:
			s.t.Fatalf("command %q not received", command)
		}
	}
}

// Disconnect 关闭当前连接
func (s *Stub) Disconnect() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Stub) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.lock.Lock()
	s.conn = conn
	s.lock.Unlock()

	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		var packets []string
		packets, pending = split(pending)
		for _, packet := range packets {
			s.handle(conn, packet)
		}
	}
}

func (s *Stub) handle(conn net.Conn, command string) {
	s.lock.Lock()
	s.received = append(s.received, command)
	silent := s.silent[command]
	reply := ""
	if replies := s.replies[command]; len(replies) > 0 {
		reply = replies[0]
		if len(replies) > 1 {
			s.replies[command] = replies[1:]
		}
	}
	noAck := s.noAck
	if command == "QStartNoAckMode" && reply == "OK" {
		s.noAck = true
	}
	s.lock.Unlock()
	select {
	case s.commands <- command:
	default:
	}

	if silent {
		return
	}
	out := Frame(reply)
	if !noAck {
		out = "+" + out
	}
	_, _ = conn.Write([]byte(out))
}

// Frame 编码为 $<payload>#<checksum>，调试桩的回复中不包含需要转义的字符
func Frame(payload string) string {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	return fmt.Sprintf("$%s#%02x", payload, sum)
}

// split 切出完整的包，忽略确认字符，返回剩余的未完成数据
func split(data []byte) ([]string, []byte) {
	var packets []string
	for {
		start := -1
		for i, c := range data {
			if c == '$' {
				start = i
				break
			}
		}
		if start < 0 {
			return packets, nil
		}
		end := -1
		for i := start; i < len(data); i++ {
			if data[i] == '#' {
				end = i
				break
			}
		}
		if end < 0 || end+2 >= len(data) {
			return packets, data[start:]
		}
		packets = append(packets, unescape(data[start+1:end]))
		data = data[end+3:]
	}
}

func unescape(body []byte) string {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		if body[i] == '}' && i+1 < len(body) {
			i++
			out = append(out, body[i]^0x20)
			continue
		}
		out = append(out, body[i])
	}
	return string(out)
}

// CountingDialer 记录socket连接次数
type CountingDialer struct {
	net.Dialer
	count atomic.Int32
}

func (d *CountingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.count.Add(1)
	return d.Dialer.DialContext(ctx, network, address)
}

func (d *CountingDialer) Count() int {
	return int(d.count.Load())
}
