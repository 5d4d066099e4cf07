package server

import (
	"encoding/json"
	"time"

	"github.com/janusipc/janus/pkg/wire"
)

type builtinFunc func(s *Server, req wire.Request) (wire.Value, *wire.Error)

// builtinHandlers is the built-in request set: ping, echo, get_info,
// validate, slow_process, manifest/spec, server_stats. A Manifest may
// never declare any of these names (pkg/manifest.ReservedRequestNames
// enforces the wire-visible subset of this same list), and a registered
// handler may never shadow one either (registry.register checks this
// map).
var builtinHandlers = map[string]builtinFunc{
	"ping":         handlePing,
	"echo":         handleEcho,
	"get_info":     handleGetInfo,
	"validate":     handleValidate,
	"slow_process": handleSlowProcess,
	"manifest":     handleManifest,
	"spec":         handleManifest,
	"server_stats": handleServerStats,
}

func handlePing(s *Server, req wire.Request) (wire.Value, *wire.Error) {
	return wire.Object(map[string]wire.Value{
		"pong":      wire.Bool(true),
		"timestamp": wire.Int(time.Now().Unix()),
	}), nil
}

func handleEcho(s *Server, req wire.Request) (wire.Value, *wire.Error) {
	message := ""
	if req.Args != nil {
		if v, ok := req.Args["message"]; ok {
			if str, isStr := v.AsString(); isStr {
				message = str
			}
		}
	}
	return wire.Object(map[string]wire.Value{
		"echo": wire.String(message),
	}), nil
}

func handleGetInfo(s *Server, req wire.Request) (wire.Value, *wire.Error) {
	return wire.Object(map[string]wire.Value{
		"server":    wire.String(s.cfg.Name),
		"version":   wire.String(s.cfg.Version),
		"timestamp": wire.Int(time.Now().Unix()),
	}), nil
}

func handleValidate(s *Server, req wire.Request) (wire.Value, *wire.Error) {
	message := ""
	if req.Args != nil {
		if v, ok := req.Args["message"]; ok {
			message, _ = v.AsString()
		}
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(message), &parsed); err != nil {
		return wire.Object(map[string]wire.Value{
			"valid": wire.Bool(false),
			"error": wire.String(err.Error()),
		}), nil
	}
	return wire.Object(map[string]wire.Value{
		"valid": wire.Bool(true),
	}), nil
}

func handleSlowProcess(s *Server, req wire.Request) (wire.Value, *wire.Error) {
	time.Sleep(2 * time.Second)
	return wire.Object(map[string]wire.Value{
		"processed": wire.Bool(true),
		"delay":     wire.String("2000ms"),
	}), nil
}

func handleManifest(s *Server, req wire.Request) (wire.Value, *wire.Error) {
	m := s.currentManifest()
	if m == nil {
		return wire.Object(map[string]wire.Value{
			"error": wire.String("no manifest loaded"),
		}), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return wire.Value{}, wire.NewError(wire.ErrInternalError)
	}
	var v wire.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return wire.Value{}, wire.NewError(wire.ErrInternalError)
	}
	return v, nil
}

func handleServerStats(s *Server, req wire.Request) (wire.Value, *wire.Error) {
	stats := s.Stats()
	uptime := time.Since(stats.StartedAt).Seconds()
	return wire.Object(map[string]wire.Value{
		"uptime":            wire.Float(uptime),
		"total_connections": wire.Int(int64(stats.TotalConnections)),
		"total_requests":    wire.Int(int64(stats.TotalRequests)),
		"active_clients":    wire.Int(int64(stats.ActiveClients)),
	}), nil
}
