package rsp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Segment 已加载程序的一个段
type Segment struct {
	ID      int
	Name    string
	Address uint32
	// Size 为0表示调试桩没有给出长度，段一直延伸到下一个段的起始地址
	Size uint32
}

// ParseSegments 解析qOffsets回复，例如 TextSeg=aef;DataSeg=1000 或 TextSeg=aef,100
func ParseSegments(reply string) ([]Segment, error) {
	var segments []Segment
	for _, item := range strings.Split(reply, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, value, found := strings.Cut(item, "=")
		if !found {
			return nil, fmt.Errorf("invalid segment entry %q", item)
		}
		addr, size, _ := strings.Cut(value, ",")
		address, err := strconv.ParseUint(addr, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid segment address %q: %w", item, err)
		}
		seg := Segment{ID: len(segments), Name: name, Address: uint32(address)}
		if size != "" {
			v, err := strconv.ParseUint(size, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid segment size %q: %w", item, err)
			}
			seg.Size = uint32(v)
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no segment in %q", reply)
	}
	return segments, nil
}

// SegmentTable 加载后的段表，下一次load之前不变
type SegmentTable struct {
	lock     sync.RWMutex
	segments []Segment
}

func NewSegmentTable() *SegmentTable {
	return &SegmentTable{}
}

func (s *SegmentTable) Set(segments []Segment) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.segments = append([]Segment(nil), segments...)
}

func (s *SegmentTable) Clear() {
	s.Set(nil)
}

func (s *SegmentTable) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.segments)
}

func (s *SegmentTable) All() []Segment {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]Segment(nil), s.segments...)
}

func (s *SegmentTable) Get(id int) (Segment, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return lo.Find(s.segments, func(seg Segment) bool { return seg.ID == id })
}

// ToRelativeOffset 找到包含address的段，返回段id和段内偏移；不在任何段中时返回-1和原地址
func (s *SegmentTable) ToRelativeOffset(address uint32) (int, int) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, seg := range s.segments {
		if address >= seg.Address && uint64(address) < s.end(seg) {
			return seg.ID, int(address - seg.Address)
		}
	}
	return -1, int(address)
}

func (s *SegmentTable) end(seg Segment) uint64 {
	if seg.Size > 0 {
		return uint64(seg.Address) + uint64(seg.Size)
	}
	starts := lo.FilterMap(s.segments, func(other Segment, _ int) (uint64, bool) {
		return uint64(other.Address), other.Address > seg.Address
	})
	if len(starts) == 0 {
		return math.MaxUint32 + 1
	}
	return lo.Min(starts)
}
