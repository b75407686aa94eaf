// Package lua runs handler bodies as Lua chunks on pooled gopher-lua states.
//
// Every Engine owns one sandboxed *lua.LState. Only the base, table, string
// and math libraries are opened, and dofile, loadfile, load, loadstring,
// require and module are removed.
//
// # Handler API
//
// Each chain runs with two globals:
//
//	request.method, request.path, request.target, request.body,
//	request.id, request.remote_addr, request.http_version,
//	request.query[name]   -- first value of a query parameter
//	request.headers[name] -- lower-case header names
//
//	response.status([code])        -- set or get the status code
//	response.content_type([type])  -- set or get the content type
//	response.body([text])          -- replace or get the body
//	response.header(name[, value]) -- set or get an extra header
//	response.json(value)           -- encode a table as the JSON body
//	response.redirect(url[, code]) -- 3xx redirect, 302 by default
//	response.etag()                -- tag the current body for If-None-Match
//
// Globals a handler defines are visible to later steps of the same chain and
// are cleared once the chain finishes. print is routed to the engine logger.
//
//	local name = request.query.name or "world"
//	response.body("hello " .. name)
package lua
