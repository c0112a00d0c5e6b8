package ready

import (
	"context"
	"net"
	"time"
)

// TCP checks readiness by dialing a TCP connection to a fixed address.
type TCP struct {
	Addr string
}

func (t *TCP) Check(ctx context.Context) error {
	d := net.Dialer{Timeout: 500 * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func (t *TCP) Target() string { return "tcp://" + t.Addr }
