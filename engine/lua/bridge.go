package lua

import (
	"fmt"
	"strings"

	"github.com/shravanasati/poolserve/request"
	"github.com/shravanasati/poolserve/response"
	lua "github.com/yuin/gopher-lua"
)

// requestTable converts a request snapshot into a fresh Lua table.
func requestTable(L *lua.LState, req *request.Request) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(req.ID()))
	t.RawSetString("method", lua.LString(req.Method()))
	t.RawSetString("path", lua.LString(req.Path()))
	t.RawSetString("target", lua.LString(req.Target()))
	t.RawSetString("http_version", lua.LString(req.HTTPVersion()))
	t.RawSetString("remote_addr", lua.LString(req.RemoteAddr()))
	t.RawSetString("body", lua.LString(req.Body()))

	query := L.NewTable()
	for k, vs := range req.Query() {
		if len(vs) > 0 {
			query.RawSetString(k, lua.LString(vs[0]))
		}
	}
	t.RawSetString("query", query)

	hs := L.NewTable()
	for k, v := range req.Headers() {
		hs.RawSetString(k, lua.LString(v))
	}
	t.RawSetString("headers", hs)
	return t
}

// responseModule builds the response table once per state. Its functions act
// on whichever response the engine is currently running against.
func (e *Engine) responseModule(L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"status":       e.luaStatus,
		"content_type": e.luaContentType,
		"body":         e.luaBody,
		"header":       e.luaHeader,
		"json":         e.luaJSON,
		"redirect":     e.luaRedirect,
		"etag":         e.luaETag,
	})
}

func (e *Engine) current(L *lua.LState) *response.Response {
	if e.resp == nil {
		L.RaiseError("response is not available outside a handler")
	}
	return e.resp
}

func (e *Engine) luaStatus(L *lua.LState) int {
	resp := e.current(L)
	if L.GetTop() == 0 {
		L.Push(lua.LNumber(resp.Status()))
		return 1
	}
	code := response.StatusCode(L.CheckInt(1))
	if !code.Valid() {
		L.ArgError(1, "status code must be between 100 and 599")
		return 0
	}
	resp.WithStatusCode(code)
	return 0
}

func (e *Engine) luaContentType(L *lua.LState) int {
	resp := e.current(L)
	if L.GetTop() == 0 {
		L.Push(lua.LString(resp.ContentType()))
		return 1
	}
	resp.WithContentType(L.CheckString(1))
	return 0
}

func (e *Engine) luaBody(L *lua.LState) int {
	resp := e.current(L)
	if L.GetTop() == 0 {
		L.Push(lua.LString(resp.Body()))
		return 1
	}
	resp.WithBodyString(L.CheckString(1))
	return 0
}

func (e *Engine) luaHeader(L *lua.LState) int {
	resp := e.current(L)
	name := L.CheckString(1)
	if L.GetTop() == 1 {
		if strings.EqualFold(name, "content-type") {
			L.Push(lua.LString(resp.ContentType()))
		} else {
			L.Push(lua.LString(resp.Headers().Get(name)))
		}
		return 1
	}
	resp.WithHeader(name, L.CheckString(2))
	return 0
}

// luaPrint mirrors the base print but sends the line to the engine logger.
func (e *Engine) luaPrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.logger.Log("lua: " + strings.Join(parts, "\t"))
	return 0
}

func (e *Engine) luaJSON(L *lua.LState) int {
	resp := e.current(L)
	v, err := toGo(L.CheckAny(1), 0)
	if err == nil {
		err = resp.WithJSON(v)
	}
	if err != nil {
		L.RaiseError("response.json: %v", err)
	}
	return 0
}

func (e *Engine) luaRedirect(L *lua.LState) int {
	resp := e.current(L)
	resp.Redirect(L.CheckString(1), response.StatusCode(L.OptInt(2, int(response.StatusFound))))
	return 0
}

func (e *Engine) luaETag(L *lua.LState) int {
	e.current(L).WithETag()
	return 0
}

const maxJSONDepth = 64

// toGo converts a Lua value for JSON encoding. Tables whose keys are exactly
// 1..n become arrays, every other table becomes an object.
func toGo(lv lua.LValue, depth int) (any, error) {
	if depth > maxJSONDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxJSONDepth)
	}
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		if n := v.MaxN(); n > 0 && n == tableLen(v) {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				item, err := toGo(v.RawGetInt(i), depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, item)
			}
			return arr, nil
		}
		obj := make(map[string]any)
		var err error
		v.ForEach(func(k, val lua.LValue) {
			if err != nil {
				return
			}
			var item any
			if item, err = toGo(val, depth+1); err == nil {
				obj[k.String()] = item
			}
		})
		return obj, err
	default:
		return nil, fmt.Errorf("cannot encode %s", lv.Type())
	}
}

func tableLen(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}
