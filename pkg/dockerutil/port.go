package dockerutil

import (
	"fmt"
	"net"

	"github.com/docker/go-connections/nat"
)

const maxPortSearch = 1000

// FindBindablePort searches upward from start (inclusive) for the first
// TCP port the host can bind, per the port-allocation rule: "search
// upward from the requested number for a bindable host port."
func FindBindablePort(start int) (int, error) {
	for port := start; port < start+maxPortSearch && port <= 65535; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("dockerutil: no bindable port found starting at %d", start)
}

// BuildPortBindings translates a container-port -> host-port assignment
// (already resolved by FindBindablePort) into the exposed-port set and
// port-binding map docker's container config expects.
func BuildPortBindings(containerToHost map[int]int) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for containerPort, hostPort := range containerToHost {
		key := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		exposed[key] = struct{}{}
		bindings[key] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", hostPort)}}
	}
	return exposed, bindings
}
