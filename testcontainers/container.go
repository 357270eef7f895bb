package testcontainers

import (
	"context"
	"net"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/testcontainers/testcontainers-go"
)

// endpoint is a started container together with the host side address of
// its single exposed port.
type endpoint struct {
	testcontainers.Container
	Host string
	Port int
}

func (e endpoint) address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func run(ctx context.Context, name string, req testcontainers.ContainerRequest) (endpoint, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return endpoint{}, eris.Wrapf(err, "start %s container", name)
	}

	// every container here exposes exactly one port
	addr, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return endpoint{}, eris.Wrapf(err, "%s endpoint", name)
	}

	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		_ = c.Terminate(context.Background())
		return endpoint{}, eris.Wrapf(err, "%s endpoint %q", name, addr)
	}

	port, err := strconv.Atoi(rawPort)
	if err != nil {
		_ = c.Terminate(context.Background())
		return endpoint{}, eris.Wrapf(err, "%s port %q", name, rawPort)
	}

	return endpoint{Container: c, Host: host, Port: port}, nil
}
