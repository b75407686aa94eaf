package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// removedGlobals can load code from disk or strings and bypass the compile cache.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
}

// newSandboxedState opens only the safe standard libraries.
func newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    1,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			panic(err)
		}
	}

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// globals is the set of global values present after setup. Anything a chain
// adds is removed afterwards and anything it replaces is put back, so one
// request cannot leak state into the next. Mutations inside library tables
// (string.foo = ...) are not undone.
type globals map[string]lua.LValue

func snapshotGlobals(L *lua.LState) globals {
	g := globals{}
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			g[string(ks)] = v
		}
	})
	return g
}

func (g globals) restore(L *lua.LState) {
	var extra []string
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			if _, known := g[string(ks)]; !known {
				extra = append(extra, string(ks))
			}
		}
	})
	for _, k := range extra {
		L.SetGlobal(k, lua.LNil)
	}
	for k, v := range g {
		if L.GetGlobal(k) != v {
			L.SetGlobal(k, v)
		}
	}
}
