package netio

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// ResolveHost turns a host name (or a literal IP address) and a port into
// a dialable UDP address. It is the sender's DNS-resolution collaborator,
// called once at startup.
func ResolveHost(ctx context.Context, hostName string, port int) (*net.UDPAddr, error) {
	if ip := net.ParseIP(hostName); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, errors.Wrap(err, "read resolver configuration")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostName), dns.TypeA)
	client := new(dns.Client)

	var lastErr error
	for _, server := range conf.Servers {
		resp, _, err := client.ExchangeContext(ctx, msg, net.JoinHostPort(server, conf.Port))
		if err != nil {
			lastErr = err
			continue
		}
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				return &net.UDPAddr{IP: a.A, Port: port}, nil
			}
		}
	}

	if lastErr != nil {
		return nil, errors.Wrapf(lastErr, "resolve host %q", hostName)
	}
	return nil, fmt.Errorf("resolve host %q: no A record found", hostName)
}
