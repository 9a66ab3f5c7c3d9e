package monitoring

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1

// Pinger sends one ICMP echo and waits for the matching reply
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)
}

type icmpPinger struct {
	id  int
	seq atomic.Uint32
}

func NewICMPPinger() Pinger {
	return &icmpPinger{id: os.Getpid() & 0xffff}
}

// listen prefers an unprivileged datagram socket and falls back to a raw one
func listen() (*icmp.PacketConn, bool, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, true, nil
	}
	conn, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr != nil {
		return nil, false, fmt.Errorf("failed to open icmp socket: %v; %w", err, rawErr)
	}
	return conn, false, nil
}

func (p *icmpPinger) Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return 0, fmt.Errorf("no ipv4 address for %s", host)
	}

	conn, datagram, err := listen()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	request := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("hsu-pilot")},
	}
	payload, err := request.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ips[0]}
	if datagram {
		dst = &net.UDPAddr{IP: ips[0]}
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	sent := time.Now()
	if _, err := conn.WriteTo(payload, dst); err != nil {
		return 0, fmt.Errorf("failed to send echo to %s: %w", ips[0], err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, fmt.Errorf("no echo reply from %s: %w", ips[0], err)
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// the kernel rewrites the identifier on datagram sockets
		if !datagram && echo.ID != p.id {
			continue
		}
		return time.Since(sent), nil
	}
}
