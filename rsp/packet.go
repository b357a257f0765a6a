// Package rsp implements a client of the GDB Remote Serial Protocol for the
// fs-uae Amiga debug stub.
package rsp

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// FrameKind 从字节流中解析出的帧类型
type FrameKind int

const (
	FramePacket FrameKind = iota
	FrameNotification
	FrameAck
	FrameNack
)

// Frame 一个解析完成的帧
type Frame struct {
	Kind    FrameKind
	Payload string
	// ChecksumOK 校验和是否与payload匹配，解码器本身不丢弃校验失败的帧
	ChecksumOK bool
}

const escapeByte = '}'

// Checksum payload所有字节之和对256取模，两位小写十六进制
func Checksum(payload string) string {
	return fmt.Sprintf("%02x", checksum([]byte(payload)))
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// Encode 编码为 $<payload>#<checksum>
func Encode(payload string) []byte {
	body := escape([]byte(payload))
	out := make([]byte, 0, len(body)+4)
	out = append(out, '$')
	out = append(out, body...)
	out = append(out, '#')
	out = append(out, fmt.Sprintf("%02x", checksum(body))...)
	return out
}

// FormatString 与Encode相同，返回字符串，用于构造测试中的异步通知
func FormatString(payload string) string {
	return string(Encode(payload))
}

// HexString 将字符串的字节编码为小写十六进制
func HexString(s string) string {
	return hex.EncodeToString([]byte(s))
}

func escape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '$', '#', '}', '*':
			out = append(out, escapeByte, c^0x20)
		default:
			out = append(out, c)
		}
	}
	return out
}

// unescape 处理 '}' 转义以及 '*' 游程编码
func unescape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case c == escapeByte && i+1 < len(b):
			i++
			out = append(out, b[i]^0x20)
		case c == '*' && i+1 < len(b) && len(out) > 0:
			i++
			repeat := int(b[i]) - 29
			last := out[len(out)-1]
			for n := 0; n < repeat; n++ {
				out = append(out, last)
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

type decodeState int

const (
	stateIdle decodeState = iota
	stateBody
	stateChecksum
)

// Decoder 将TCP读到的字节切分为帧，跨多次Feed保留未完成的帧
type Decoder struct {
	state  decodeState
	kind   FrameKind
	body   []byte
	sum    []byte
	frames []Frame
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed 输入新读到的数据，返回其中所有完整的帧
func (d *Decoder) Feed(data []byte) []Frame {
	d.frames = nil
	for _, c := range data {
		switch d.state {
		case stateIdle:
			switch c {
			case '+':
				d.frames = append(d.frames, Frame{Kind: FrameAck, ChecksumOK: true})
			case '-':
				d.frames = append(d.frames, Frame{Kind: FrameNack, ChecksumOK: true})
			case '$':
				d.begin(FramePacket)
			case '%':
				d.begin(FrameNotification)
			}
		case stateBody:
			if c == '#' {
				d.state = stateChecksum
				d.sum = d.sum[:0]
				continue
			}
			d.body = append(d.body, c)
		case stateChecksum:
			d.sum = append(d.sum, c)
			if len(d.sum) == 2 {
				d.finish()
			}
		}
	}
	return d.frames
}

func (d *Decoder) begin(kind FrameKind) {
	d.state = stateBody
	d.kind = kind
	d.body = d.body[:0]
}

func (d *Decoder) finish() {
	expected, err := strconv.ParseUint(string(d.sum), 16, 8)
	ok := err == nil && byte(expected) == checksum(d.body)
	d.frames = append(d.frames, Frame{
		Kind:       d.kind,
		Payload:    string(unescape(d.body)),
		ChecksumOK: ok,
	})
	d.state = stateIdle
}
