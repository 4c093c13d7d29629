package proxyserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// sentinelHeader marks a /healthz response as coming from this proxy
// binary (any instance, any adapter), so a port conflict can be told apart
// from "another instance of this proxy is already listening here" versus
// "some unrelated process holds this port".
const sentinelHeader = "X-Claude-Relay"
const sentinelValue = "1"

// PortConflict describes why the configured port could not be bound.
type PortConflict struct {
	SameInstance bool   // true if the occupant answered our /healthz sentinel
	Detail       string // process name/PID if discoverable, for the operator message
}

func (p PortConflict) Error() string {
	if p.SameInstance {
		return fmt.Sprintf("port already in use by another claude-relay instance (%s)", p.Detail)
	}
	return fmt.Sprintf("port already in use by another process (%s)", p.Detail)
}

// probePort checks whether the configured port is already bound, and if
// so, whether the occupant is another instance of this proxy. It never
// silently falls back to a different port.
func probePort(host string, port int) (*PortConflict, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		// Nothing is listening; the port is free.
		return nil, nil
	}
	conn.Close()

	sameInstance := probeHealthzSentinel(addr)
	detail := describeOccupant(port)
	return &PortConflict{SameInstance: sameInstance, Detail: detail}, nil
}

func probeHealthzSentinel(addr string) bool {
	client := http.Client{Timeout: 1 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.Header.Get(sentinelHeader) == sentinelValue
}

// describeOccupant shells out to OS-specific tools to name the process
// holding the port, purely for the operator-facing error message. Failure
// to identify it is not fatal; the conflict itself already was detected.
func describeOccupant(port int) string {
	pid := findPIDUsingPort(port)
	if pid == "" {
		return "unknown process"
	}
	name := processName(pid)
	if name == "" {
		return fmt.Sprintf("pid %s", pid)
	}
	return fmt.Sprintf("%s, pid %s", name, pid)
}

func findPIDUsingPort(port int) string {
	if runtime.GOOS == "windows" {
		return findPIDUsingPortWindows(port)
	}
	return findPIDUsingPortUnix(port)
}

func findPIDUsingPortUnix(port int) string {
	if out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output(); err == nil {
		if pid := strings.TrimSpace(string(out)); pid != "" {
			return strings.Fields(pid)[0]
		}
	}
	if out, err := exec.Command("sh", "-c", fmt.Sprintf("ss -tlnp 2>/dev/null | grep ':%d '", port)).Output(); err == nil {
		if idx := strings.Index(string(out), "pid="); idx != -1 {
			rest := string(out)[idx+4:]
			end := strings.IndexAny(rest, ",) ")
			if end != -1 {
				return rest[:end]
			}
		}
	}
	return ""
}

func findPIDUsingPortWindows(port int) string {
	out, err := exec.Command("netstat", "-ano").Output()
	if err != nil {
		return ""
	}
	needle := fmt.Sprintf(":%d", port)
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, needle) {
			fields := strings.Fields(line)
			if len(fields) > 0 {
				return fields[len(fields)-1]
			}
		}
	}
	return ""
}

func processName(pid string) string {
	if runtime.GOOS == "windows" {
		out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %s", pid), "/FO", "CSV", "/NH").Output()
		if err != nil {
			return ""
		}
		fields := strings.Split(string(out), ",")
		if len(fields) > 0 {
			return strings.Trim(fields[0], "\"")
		}
		return ""
	}
	out, err := exec.Command("ps", "-p", pid, "-o", "comm=").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
