package script

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/luaconsole/overlay/internal/logrelay"
	"github.com/luaconsole/overlay/internal/rebase"
)

// Globals removed after OpenBase. Scripts run inside the host process, so
// nothing that reaches the filesystem or the loader survives.
var strippedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require", "module"}

// HostState is the cached game state. host.Tracker satisfies it.
type HostState interface {
	State() (int32, bool)
	InGameplay() bool
}

// Env is what scripts can reach. Nil members make the matching Lua
// functions raise an error instead.
type Env struct {
	Publish  func(line string)
	ClearLog func()
	Host     HostState
	Memory   rebase.Reader
	Base     uintptr
}

func newSandbox(env Env) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	b := &bindings{env: env}
	L.SetGlobal("print", L.NewFunction(b.print))
	L.SetGlobal("host", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"state":       b.hostState,
		"in_gameplay": b.hostInGameplay,
	}))
	L.SetGlobal("mem", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"base":            b.memBase,
		"addr":            b.memAddr,
		"read_u8":         b.readU8,
		"read_i32":        b.readI32,
		"read_u32":        b.readU32,
		"read_u64":        b.readU64,
		"read_ptr":        b.readU64,
		"read_f32":        b.readF32,
		"read_string":     b.readCString,
		"read_std_string": b.readStdString,
	}))
	L.SetGlobal("console", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"clear": b.consoleClear,
	}))
	return L
}

func compile(name, src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return proto, nil
}

type bindings struct {
	env Env
}

func (b *bindings) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	if b.env.Publish != nil {
		b.env.Publish(strings.Join(parts, "\t"))
	}
	return 0
}

func (b *bindings) hostState(L *lua.LState) int {
	if b.env.Host == nil {
		L.Push(lua.LNil)
		return 1
	}
	s, ok := b.env.Host.State()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(s))
	return 1
}

func (b *bindings) hostInGameplay(L *lua.LState) int {
	L.Push(lua.LBool(b.env.Host != nil && b.env.Host.InGameplay()))
	return 1
}

func (b *bindings) consoleClear(L *lua.LState) int {
	if b.env.ClearLog != nil {
		b.env.ClearLog()
	}
	return 0
}

func (b *bindings) memBase(L *lua.LState) int {
	L.Push(lua.LNumber(b.env.Base))
	return 1
}

func (b *bindings) memAddr(L *lua.LState) int {
	off := L.CheckNumber(1)
	if off < 0 {
		L.ArgError(1, "negative offset")
	}
	L.Push(lua.LNumber(b.env.Base + uintptr(off)))
	return 1
}

// read returns n bytes at the address in argument 1 or raises a Lua error.
func (b *bindings) read(L *lua.LState, n int) []byte {
	addr := checkAddr(L, 1)
	if b.env.Memory == nil {
		L.RaiseError("memory access is not available")
	}
	buf, err := b.env.Memory.Read(addr, n)
	if err != nil {
		L.RaiseError("read 0x%X: %v", addr, err)
	}
	if len(buf) < n {
		L.RaiseError("read 0x%X: short read", addr)
	}
	return buf
}

func (b *bindings) readU8(L *lua.LState) int {
	L.Push(lua.LNumber(b.read(L, 1)[0]))
	return 1
}

func (b *bindings) readI32(L *lua.LState) int {
	L.Push(lua.LNumber(int32(le32(b.read(L, 4)))))
	return 1
}

func (b *bindings) readU32(L *lua.LState) int {
	L.Push(lua.LNumber(le32(b.read(L, 4))))
	return 1
}

// Lua numbers are float64; values above 2^53 lose precision. User-mode
// pointers fit.
func (b *bindings) readU64(L *lua.LState) int {
	L.Push(lua.LNumber(le64(b.read(L, 8))))
	return 1
}

func (b *bindings) readF32(L *lua.LState) int {
	L.Push(lua.LNumber(f32(b.read(L, 4))))
	return 1
}

func (b *bindings) readCString(L *lua.LState) int {
	return b.readString(L, logrelay.KindCString)
}

func (b *bindings) readStdString(L *lua.LState) int {
	return b.readString(L, logrelay.KindStdString)
}

func (b *bindings) readString(L *lua.LState, kind logrelay.MessageKind) int {
	addr := checkAddr(L, 1)
	if b.env.Memory == nil {
		L.RaiseError("memory access is not available")
	}
	s, err := logrelay.ReadMessage(b.env.Memory, addr, kind)
	if err != nil {
		L.RaiseError("read string 0x%X: %v", addr, err)
	}
	L.Push(lua.LString(s))
	return 1
}

func checkAddr(L *lua.LState, n int) uintptr {
	v := L.CheckNumber(n)
	if v <= 0 {
		L.ArgError(n, "address must be positive")
	}
	return uintptr(v)
}
