package util

import (
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/denisbrodbeck/machineid"
)

// SystemInfo describes the host the service is running on.
type SystemInfo struct {
	NumCPU       int64  `json:"num_cpu"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo returns info about the system.
func GetSystemInfo() (*SystemInfo, error) {
	return &SystemInfo{
		NumCPU:       int64(runtime.NumCPU()),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    strings.TrimPrefix(runtime.Version(), "go"),
	}, nil
}

// GetMachineId returns a unique machine ID scoped to this application.
func GetMachineId() (string, error) {
	return machineid.ProtectedID("crud6")
}

// GetLocalIP returns the local private IPv4 address.
func GetLocalIP() (string, error) {
	addresses, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addresses {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || !ipnet.IP.IsPrivate() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no private IP found")
}
