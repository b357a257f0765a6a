package rsp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	e "github.com/bissonex/vscode-amiga-assembly/error"
	"github.com/bissonex/vscode-amiga-assembly/utils/gosync"
	"github.com/sirupsen/logrus"
)

// Dialer 建立到调试桩的socket连接，测试中可替换
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PacketListener 接收transport解析出的帧
// OnPacket按接收顺序串行调用，OnClose只调用一次
type PacketListener interface {
	OnPacket(frame Frame)
	OnClose(err error)
}

// Transport 持有TCP连接，缓冲收到的字节并交付完整的包
type Transport struct {
	conn     net.Conn
	decoder  *Decoder
	listener PacketListener
	log      *logrus.Entry

	noAck   atomic.Bool
	writeMu sync.Mutex
	feedMu  sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.RWMutex
	err       error
}

// Dial 连接到address
func Dial(ctx context.Context, dialer Dialer, address string) (net.Conn, error) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &e.TransportError{Op: "dial " + address, Err: err}
	}
	return conn, nil
}

// NewTransport 创建transport，调用Start后开始读取
func NewTransport(conn net.Conn, listener PacketListener, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{
		conn:     conn,
		decoder:  NewDecoder(),
		listener: listener,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start 启动读取协程
func (t *Transport) Start(ctx context.Context) {
	gosync.Go(ctx, t.readLoop)
}

func (t *Transport) readLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				t.shutdown(e.ErrDisconnected)
			} else {
				t.shutdown(&e.TransportError{Op: "read", Err: err})
			}
			return
		}
	}
}

// Feed 按socket读取的路径处理一段原始字节
func (t *Transport) Feed(data []byte) {
	t.feedMu.Lock()
	defer t.feedMu.Unlock()
	for _, frame := range t.decoder.Feed(data) {
		switch frame.Kind {
		case FrameAck:
			continue
		case FrameNack:
			t.log.Warnf("[Transport] stub requested a retransmission")
			continue
		}
		if !t.noAck.Load() {
			ack := []byte("+")
			if !frame.ChecksumOK {
				ack = []byte("-")
			}
			if err := t.write(ack); err != nil {
				t.log.Errorf("[Transport] ack failed, err = %v", err)
			}
			if !frame.ChecksumOK {
				continue
			}
		} else if !frame.ChecksumOK {
			t.log.Warnf("[Transport] checksum mismatch for %q", frame.Payload)
		}
		t.log.Debugf("[Transport] <- %s", frame.Payload)
		t.listener.OnPacket(frame)
	}
}

// Send 编码并发送一个包
func (t *Transport) Send(payload string) error {
	select {
	case <-t.done:
		return e.ErrDisconnected
	default:
	}
	t.log.Debugf("[Transport] -> %s", payload)
	return t.write(Encode(payload))
}

func (t *Transport) write(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.conn.Write(b); err != nil {
		return &e.TransportError{Op: "write", Err: err}
	}
	return nil
}

// SetNoAckMode 进入no-ack模式后不再发送'+'确认
func (t *Transport) SetNoAckMode(enabled bool) {
	t.noAck.Store(enabled)
}

// Done 连接关闭时关闭该channel
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err 返回导致连接关闭的错误
func (t *Transport) Err() error {
	t.errMu.RLock()
	defer t.errMu.RUnlock()
	return t.err
}

// Close 关闭连接
func (t *Transport) Close() error {
	err := t.conn.Close()
	t.shutdown(e.ErrDisconnected)
	return err
}

func (t *Transport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()
		close(t.done)
		_ = t.conn.Close()
		t.listener.OnClose(err)
	})
}
