package backends

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// demoTargets is the simulated fleet the demo backend serves.
var demoTargets = map[string]map[string]any{
	"demo-host-1": {
		"type":     "host",
		"hostname": "demo-host-1.example.com",
		"ip":       "10.0.1.10",
		"os":       "Ubuntu 22.04",
		"status":   "online",
	},
	"demo-host-2": {
		"type":     "host",
		"hostname": "demo-host-2.example.com",
		"ip":       "10.0.1.11",
		"os":       "CentOS 9",
		"status":   "online",
	},
	"demo-service-1": {
		"type":     "service",
		"name":     "api-gateway",
		"endpoint": "https://api.example.com",
		"port":     443,
		"status":   "healthy",
	},
	"demo-service-2": {
		"type":     "service",
		"name":     "auth-service",
		"endpoint": "https://auth.example.com",
		"port":     8443,
		"status":   "degraded",
	},
}

// DemoBackend returns simulated diagnostic results for a small fixed fleet.
// It exercises the full orchestrator flow without real infrastructure.
type DemoBackend struct {
	catalog *DiagnosticsCatalog
}

// NewDemoBackend builds the backend and its diagnostics catalog.
func NewDemoBackend() *DemoBackend {
	catalog := NewDiagnosticsCatalog()
	catalog.Register(DiagnosticAction{
		Name:        "ping",
		Description: "Send a reachability probe to the target",
		Category:    "network",
		TargetTypes: []string{"host", "service"},
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"count": map[string]any{"type": "integer", "default": 4}},
		},
	})
	catalog.Register(DiagnosticAction{
		Name:        "traceroute",
		Description: "Trace the network route to the target",
		Category:    "network",
		TargetTypes: []string{"host"},
	})
	catalog.Register(DiagnosticAction{
		Name:        "dns_lookup",
		Description: "Resolve DNS records for the target",
		Category:    "network",
		TargetTypes: []string{"host", "service"},
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"record_type": map[string]any{"type": "string", "default": "A"}},
		},
	})
	catalog.Register(DiagnosticAction{
		Name:        "port_check",
		Description: "Check whether ports are open on the target",
		Category:    "network",
		TargetTypes: []string{"host"},
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ports": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			},
		},
	})
	catalog.Register(DiagnosticAction{
		Name:        "service_status",
		Description: "Check service health and uptime",
		Category:    "service",
		TargetTypes: []string{"service"},
	})
	catalog.Register(DiagnosticAction{
		Name:        "log_tail",
		Description: "Tail recent log lines from the target",
		Category:    "logs",
		TargetTypes: []string{"host", "service"},
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"lines":   map[string]any{"type": "integer", "default": 50},
				"service": map[string]any{"type": "string"},
			},
		},
	})
	return &DemoBackend{catalog: catalog}
}

// Catalog exposes the backend's diagnostics catalog.
func (b *DemoBackend) Catalog() *DiagnosticsCatalog { return b.catalog }

// Targets returns the names of the simulated fleet, sorted.
func (b *DemoBackend) Targets() []string {
	names := make([]string, 0, len(demoTargets))
	for name := range demoTargets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *DemoBackend) target(name string) (map[string]any, error) {
	info, ok := demoTargets[name]
	if !ok {
		return nil, &BackendError{
			Message: fmt.Sprintf("Unknown target: %s", name),
			Code:    "target_not_found",
		}
	}
	copied := make(map[string]any, len(info))
	for k, v := range info {
		copied[k] = v
	}
	return copied, nil
}

func (b *DemoBackend) ResolveTarget(ctx context.Context, target string) (map[string]any, error) {
	return b.target(target)
}

func (b *DemoBackend) ListDiagnostics(ctx context.Context, target string) ([]DiagnosticInfo, error) {
	info, err := b.target(target)
	if err != nil {
		return nil, err
	}
	targetType, _ := info["type"].(string)
	if targetType == "" {
		targetType = "host"
	}

	actions := b.catalog.ListForTarget(targetType)
	diags := make([]DiagnosticInfo, 0, len(actions))
	for _, a := range actions {
		diags = append(diags, DiagnosticInfo{
			Name:        a.Name,
			Description: a.Description,
			TargetType:  targetType,
			Parameters:  a.Parameters,
		})
	}
	return diags, nil
}

func (b *DemoBackend) RunDiagnostic(ctx context.Context, action, target string, args map[string]any) (map[string]any, error) {
	info, err := b.target(target)
	if err != nil {
		return nil, err
	}

	switch action {
	case "ping":
		return genPing(target, info, args), nil
	case "traceroute":
		return genTraceroute(target), nil
	case "dns_lookup":
		return genDNSLookup(target, info, args), nil
	case "port_check":
		return genPortCheck(target, args), nil
	case "service_status":
		return genServiceStatus(target, info), nil
	case "log_tail":
		return genLogTail(target, args), nil
	default:
		return nil, &BackendError{
			Message: fmt.Sprintf("Unknown diagnostic: %s", action),
			Code:    "unknown_diagnostic",
		}
	}
}

func (b *DemoBackend) RunShell(ctx context.Context, command, target string, opts ShellOptions) (map[string]any, error) {
	if _, err := b.target(target); err != nil {
		return nil, err
	}
	return map[string]any{
		"exit_code":   0,
		"stdout":      fmt.Sprintf("[demo] $ %s\n(simulated output for %s)\n", command, target),
		"stderr":      "",
		"duration_ms": int64(rand.Intn(450) + 50),
	}, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func stringValue(info map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := info[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func genPing(target string, info, args map[string]any) map[string]any {
	count := intArg(args, "count", 4)
	if count < 1 {
		count = 1
	}
	ip := stringValue(info, "ip", "endpoint")
	if ip == "" {
		ip = "unknown"
	}

	times := make([]float64, count)
	minRTT, maxRTT, sum := math.MaxFloat64, 0.0, 0.0
	for i := range times {
		t := round2(rand.Float64()*24.5 + 0.5)
		times[i] = t
		sum += t
		if t < minRTT {
			minRTT = t
		}
		if t > maxRTT {
			maxRTT = t
		}
	}

	return map[string]any{
		"target":           target,
		"ip":               ip,
		"packets_sent":     count,
		"packets_received": count,
		"packet_loss_pct":  0.0,
		"rtt_min_ms":       minRTT,
		"rtt_avg_ms":       round2(sum / float64(count)),
		"rtt_max_ms":       maxRTT,
		"times_ms":         times,
	}
}

func genTraceroute(target string) map[string]any {
	hopCount := rand.Intn(7) + 5
	hops := make([]map[string]any, 0, hopCount)
	for i := 1; i <= hopCount; i++ {
		hops = append(hops, map[string]any{
			"hop":      i,
			"ip":       fmt.Sprintf("10.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(254)+1),
			"rtt_ms":   round2((rand.Float64()*49.5 + 0.5) * float64(i)),
			"hostname": fmt.Sprintf("hop-%d.network.example.com", i),
		})
	}
	return map[string]any{"target": target, "hops": hops}
}

func genDNSLookup(target string, info, args map[string]any) map[string]any {
	hostname := stringValue(info, "hostname", "endpoint")
	if hostname == "" {
		hostname = target
	}
	recordType, _ := args["record_type"].(string)
	if recordType == "" {
		recordType = "A"
	}
	value := stringValue(info, "ip")
	if value == "" {
		value = "10.0.1.1"
	}
	return map[string]any{
		"query":            hostname,
		"record_type":      recordType,
		"answers":          []map[string]any{{"type": "A", "value": value, "ttl": 300}},
		"nameserver":       "10.0.0.2",
		"response_time_ms": round2(rand.Float64()*19 + 1),
	}
}

var wellKnownPorts = map[int]string{22: "ssh", 80: "http", 443: "https"}

func genPortCheck(target string, args map[string]any) map[string]any {
	ports := []int{22, 80, 443}
	if raw, ok := args["ports"].([]any); ok && len(raw) > 0 {
		ports = ports[:0]
		for _, p := range raw {
			if n, ok := p.(float64); ok {
				ports = append(ports, int(n))
			}
		}
	}

	results := make([]map[string]any, 0, len(ports))
	for _, port := range ports {
		state := "open"
		if rand.Float64() <= 0.1 {
			state = "filtered"
		}
		service := wellKnownPorts[port]
		if service == "" {
			service = "unknown"
		}
		results = append(results, map[string]any{
			"port":    port,
			"state":   state,
			"service": service,
		})
	}
	return map[string]any{"target": target, "port_results": results}
}

func genServiceStatus(target string, info map[string]any) map[string]any {
	service := stringValue(info, "name")
	if service == "" {
		service = target
	}
	status := stringValue(info, "status")
	if status == "" {
		status = "unknown"
	}
	return map[string]any{
		"target":             target,
		"service":            service,
		"status":             status,
		"uptime_seconds":     rand.Intn(860400) + 3600,
		"last_restart":       "2026-02-08T10:30:00Z",
		"version":            "2.4.1",
		"connections_active": rand.Intn(490) + 10,
		"cpu_pct":            math.Round((rand.Float64()*44+1)*10) / 10,
		"memory_mb":          rand.Intn(1920) + 128,
	}
}

var demoLogLevels = []string{"INFO", "INFO", "INFO", "WARN", "DEBUG", "ERROR"}

func genLogTail(target string, args map[string]any) map[string]any {
	lines := intArg(args, "lines", 10)
	emit := lines
	if emit > 20 {
		emit = 20
	}
	logLines := make([]string, 0, emit)
	for i := 0; i < emit; i++ {
		level := demoLogLevels[rand.Intn(len(demoLogLevels))]
		logLines = append(logLines, fmt.Sprintf(
			"2026-02-09T%02d:%02d:00Z [%s] Sample log message %d from %s",
			10+i/60, i%60, level, i+1, target,
		))
	}
	return map[string]any{"target": target, "lines": logLines, "total_available": lines}
}
