package weird

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Resolver looks up DNS TXT records.
type Resolver interface {
	// LookupTXT returns the TXT records at name, each with its character
	// strings joined. No records is types.ErrAbsent.
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// resolvConf is read when no nameservers are given.
const resolvConf = "/etc/resolv.conf"

// fallbackNameserver is used when the system configuration is unreadable.
var fallbackNameserver = "8.8.8.8:53"

// ednsBufSize is the UDP payload size advertised in queries. Tickets do
// not fit in a plain 512 byte response.
const ednsBufSize = 4096

// DNSResolver queries nameservers directly, in order, until one answers.
// A truncated UDP answer is retried over TCP.
type DNSResolver struct {
	servers []string
	client  *dns.Client
	tcp     *dns.Client
}

// NewDNSResolver returns a resolver using servers ("host" or "host:port").
// With no servers it uses the system's resolv.conf.
func NewDNSResolver(servers ...string) *DNSResolver {
	if len(servers) == 0 {
		servers = systemNameservers()
	}
	addrs := make([]string, len(servers))
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs[i] = s
	}
	return &DNSResolver{
		servers: addrs,
		client:  &dns.Client{Timeout: 5 * time.Second},
		tcp:     &dns.Client{Net: "tcp", Timeout: 5 * time.Second},
	}
}

func systemNameservers() []string {
	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(conf.Servers) == 0 {
		return []string{fallbackNameserver}
	}
	out := make([]string, len(conf.Servers))
	for i, s := range conf.Servers {
		out[i] = net.JoinHostPort(s, conf.Port)
	}
	return out
}

// LookupTXT asks each nameserver in turn. NXDOMAIN or an answer without
// TXT records is types.ErrAbsent; transport failures move on to the next
// server.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true
	m.SetEdns0(ednsBufSize, false)

	var errs []error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err == nil && in.Truncated {
			in, _, err = r.tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%w: no TXT record at %s", types.ErrAbsent, name)
		default:
			errs = append(errs, fmt.Errorf("%s: %s", server, dns.RcodeToString[in.Rcode]))
			continue
		}
		var records []string
		for _, rr := range in.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				records = append(records, strings.Join(txt.Txt, ""))
			}
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: no TXT record at %s", types.ErrAbsent, name)
		}
		return records, nil
	}
	return nil, fmt.Errorf("lookup TXT %s: %w", name, errors.Join(errs...))
}

// instanceRecord is the name whose TXT record holds the read ticket of the
// instance serving domain.
func instanceRecord(domain string) string {
	return "instance.weird." + dns.Fqdn(domain)
}
