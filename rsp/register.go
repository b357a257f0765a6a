package rsp

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"
)

// Register 寄存器名称和值
type Register struct {
	Name  string
	Value int64
}

const (
	RegisterSRIndex         = 0x10
	RegisterPCIndex         = 0x11
	RegisterCopperAddrIndex = 0x60
	// registerWidth g回复中每个寄存器的十六进制位数
	registerWidth = 8
)

// registerNames g回复中寄存器的顺序，下标即寄存器编号
var registerNames = []string{
	"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7",
	"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"sr", "pc",
}

const copperRegisterName = "copper"

type srFlag struct {
	name string
	bit  uint
}

// srFlags 状态寄存器的标志位，按输出顺序排列
var srFlags = []srFlag{
	{"T1", 15}, {"T0", 14}, {"S", 13}, {"M", 12},
	{"I2", 10}, {"I1", 9}, {"I0", 8},
	{"X", 4}, {"N", 3}, {"Z", 2}, {"V", 1}, {"C", 0},
}

// GetRegisterIndex 寄存器名称到编号，未知名称返回false
func GetRegisterIndex(name string) (int, bool) {
	if name == copperRegisterName {
		return RegisterCopperAddrIndex, true
	}
	idx := lo.IndexOf(registerNames, name)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// GetRegisterName 寄存器编号到名称
func GetRegisterName(index int) (string, bool) {
	if index == RegisterCopperAddrIndex {
		return copperRegisterName, true
	}
	if index < 0 || index >= len(registerNames) {
		return "", false
	}
	return registerNames[index], true
}

// DecodeRegisters 解析g命令的回复
// 输出顺序为 pc, d0-d7, a0-a7, sr, 以及sr的各个标志位
func DecodeRegisters(reply string) ([]Register, error) {
	values := make([]int64, 0, len(registerNames))
	for pos := 0; pos+registerWidth <= len(reply) && len(values) < len(registerNames); pos += registerWidth {
		v, err := strconv.ParseUint(reply[pos:pos+registerWidth], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid register value at %d: %w", pos/registerWidth, err)
		}
		values = append(values, int64(v))
	}
	if len(values) < len(registerNames) {
		return nil, fmt.Errorf("registers reply too short: %d values", len(values))
	}
	registers := make([]Register, 0, len(registerNames)+len(srFlags))
	registers = append(registers, Register{Name: "pc", Value: values[RegisterPCIndex]})
	for i := 0; i < RegisterSRIndex; i++ {
		registers = append(registers, Register{Name: registerNames[i], Value: values[i]})
	}
	registers = append(registers, Register{Name: "sr", Value: values[RegisterSRIndex]})
	return append(registers, DecodeStatusRegister(values[RegisterSRIndex])...), nil
}

// DecodeStatusRegister 将sr拆分为单独的标志位
func DecodeStatusRegister(sr int64) []Register {
	return lo.Map(srFlags, func(flag srFlag, _ int) Register {
		return Register{Name: flag.name, Value: (sr >> flag.bit) & 1}
	})
}

// ParseRegisterValue 解析p命令的回复
func ParseRegisterValue(reply string) (uint32, error) {
	v, err := strconv.ParseUint(reply, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid register value %q: %w", reply, err)
	}
	return uint32(v), nil
}
