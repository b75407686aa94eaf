package lua

import (
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// maxCachedProtos bounds the compile cache; past it the cache starts over.
const maxCachedProtos = 4096

// Compiled protos are immutable and shared by every state in the process.
var protoCache = struct {
	sync.RWMutex
	m map[string]*lua.FunctionProto
}{m: make(map[string]*lua.FunctionProto)}

func compile(name, body string) (*lua.FunctionProto, error) {
	key := name + "\x00" + body

	protoCache.RLock()
	proto, ok := protoCache.m[key]
	protoCache.RUnlock()
	if ok {
		return proto, nil
	}

	chunk, err := parse.Parse(strings.NewReader(body), name)
	if err != nil {
		return nil, err
	}
	proto, err = lua.Compile(chunk, name)
	if err != nil {
		return nil, err
	}

	protoCache.Lock()
	if len(protoCache.m) >= maxCachedProtos {
		protoCache.m = make(map[string]*lua.FunctionProto)
	}
	protoCache.m[key] = proto
	protoCache.Unlock()
	return proto, nil
}

// Check compiles body and reports syntax errors without running it.
func Check(name, body string) error {
	_, err := compile(name, body)
	return err
}
