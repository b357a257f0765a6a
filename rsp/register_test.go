package rsp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registersReply 18个寄存器，值为下标，sr为0xaaaa
func registersReply() string {
	str := ""
	for i := 0; i < 18; i++ {
		v := i
		if i == 16 {
			v = 43690
		}
		str += fmt.Sprintf("%08x", v)
	}
	return str
}

func TestDecodeRegisters(t *testing.T) {
	registers, err := DecodeRegisters(registersReply())
	require.NoError(t, err)
	require.Len(t, registers, 30)

	assert.Equal(t, Register{Name: "pc", Value: 17}, registers[0])
	for i := 0; i < 8; i++ {
		assert.Equal(t, Register{Name: fmt.Sprintf("d%d", i), Value: int64(i)}, registers[1+i])
		assert.Equal(t, Register{Name: fmt.Sprintf("a%d", i), Value: int64(8 + i)}, registers[9+i])
	}
	assert.Equal(t, Register{Name: "sr", Value: 43690}, registers[17])

	expected := []Register{
		{"T1", 1}, {"T0", 0}, {"S", 1}, {"M", 0},
		{"I2", 0}, {"I1", 1}, {"I0", 0},
		{"X", 0}, {"N", 1}, {"Z", 0}, {"V", 1}, {"C", 0},
	}
	assert.Equal(t, expected, registers[18:])
}

func TestDecodeRegistersErrors(t *testing.T) {
	_, err := DecodeRegisters("0000")
	assert.Error(t, err)
	_, err = DecodeRegisters("zzzzzzzz" + registersReply()[8:])
	assert.Error(t, err)
}

func TestRegisterIndex(t *testing.T) {
	idx, ok := GetRegisterIndex("pc")
	require.True(t, ok)
	assert.Equal(t, 0x11, idx)

	idx, ok = GetRegisterIndex("d0")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, ok = GetRegisterIndex("copper")
	require.True(t, ok)
	assert.Equal(t, RegisterCopperAddrIndex, idx)

	_, ok = GetRegisterIndex("xx")
	assert.False(t, ok)

	name, ok := GetRegisterName(8)
	require.True(t, ok)
	assert.Equal(t, "a0", name)
	_, ok = GetRegisterName(99)
	assert.False(t, ok)
}
