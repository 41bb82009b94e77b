// Package emailcheck verifies that an email address names a domain that can
// receive mail, using a direct DNS query to a recursive resolver.
package emailcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultUpstream is the recursive resolver used when none is configured.
	DefaultUpstream = "8.8.8.8:53"

	queryTimeout = 5 * time.Second
	edns0BufSize = 4096
)

var (
	// ErrInvalidEmail indicates the address has no local part or domain.
	ErrInvalidEmail = errors.New("emailcheck: invalid email address")

	// ErrNoMailDomain indicates the domain does not exist or publishes
	// neither MX nor address records.
	ErrNoMailDomain = errors.New("emailcheck: domain does not accept mail")

	// ErrLookupFailed indicates the resolver could not be queried.
	ErrLookupFailed = errors.New("emailcheck: DNS lookup failed")
)

// DomainOf returns the domain part of email.
func DomainOf(email string) (string, error) {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	domain := email[at+1:]
	if strings.ContainsAny(domain, " \t\r\n@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.ToLower(domain), nil
}

// MXChecker checks email domains for MX records. A domain without MX but
// with an A or AAAA record is accepted as an implicit mail exchanger.
type MXChecker struct {
	// Upstream is the resolver address, e.g. "8.8.8.8:53".
	Upstream string

	client *dns.Client
}

// NewMXChecker creates a checker. An empty upstream uses DefaultUpstream.
func NewMXChecker(upstream string) *MXChecker {
	if upstream == "" {
		upstream = DefaultUpstream
	}
	return &MXChecker{
		Upstream: upstream,
		client:   &dns.Client{Timeout: queryTimeout},
	}
}

// CheckEmail returns nil when the domain of email can receive mail.
func (c *MXChecker) CheckEmail(ctx context.Context, email string) error {
	domain, err := DomainOf(email)
	if err != nil {
		return err
	}

	resp, err := c.query(ctx, domain, dns.TypeMX)
	if err != nil {
		return err
	}
	if resp.Rcode == dns.RcodeNameError {
		return fmt.Errorf("%w: %s does not exist", ErrNoMailDomain, domain)
	}
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			// A null MX (RFC 7505) explicitly refuses mail.
			if mx.Mx == "." {
				return fmt.Errorf("%w: %s publishes a null MX", ErrNoMailDomain, domain)
			}
			return nil
		}
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := c.query(ctx, domain, qtype)
		if err != nil {
			return err
		}
		for _, rr := range resp.Answer {
			switch rr.(type) {
			case *dns.A, *dns.AAAA:
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no MX or address records for %s", ErrNoMailDomain, domain)
}

func (c *MXChecker) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(edns0BufSize, false)

	resp, _, err := c.client.ExchangeContext(ctx, msg, c.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s %s: %w",
			ErrLookupFailed, name, dns.TypeToString[qtype], err)
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("%w: query %s %s: rcode %s",
			ErrLookupFailed, name, dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
	}
	return resp, nil
}
