package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// DefaultBrowseTimeout bounds an mDNS lookup.
const DefaultBrowseTimeout = 5 * time.Second

// MDNSConfig configures an MDNSResolver.
type MDNSConfig struct {
	// BrowseTimeout bounds one Resolve. Default: DefaultBrowseTimeout.
	BrowseTimeout time.Duration `yaml:"browse_timeout"`

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string `yaml:"interface"`

	Logger *slog.Logger `yaml:"-"`
}

// MDNSResolver finds hubs advertised on the local network.
type MDNSResolver struct {
	config MDNSConfig
	logger *slog.Logger
}

// NewMDNSResolver creates an mDNS resolver.
func NewMDNSResolver(config MDNSConfig) *MDNSResolver {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MDNSResolver{config: config, logger: logger}
}

// Resolve implements Resolver. It returns ErrNotFound when no matching hub
// answers within the browse timeout.
func (r *MDNSResolver) Resolve(ctx context.Context, q Query) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, r.options()...)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrNotFound, q)
			}
			if url, ok := r.match(entry, q); ok {
				return url, nil
			}
		case <-removed:
		case err := <-browseErr:
			if err != nil {
				return "", fmt.Errorf("mdns browse: %w", err)
			}
			browseErr = nil
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s", ErrNotFound, q)
		}
	}
}

func (r *MDNSResolver) match(entry *zeroconf.ServiceEntry, q Query) (string, bool) {
	info, err := DecodeHubTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		r.logger.Debug("ignoring hub", "instance", entry.Instance, "error", err)
		return "", false
	}
	if !info.Matches(q) {
		return "", false
	}
	host := entryHost(entry)
	if host == "" {
		return "", false
	}
	url := wsURL(net.JoinHostPort(host, strconv.Itoa(entry.Port)), info.TLS, info.Path)
	r.logger.Debug("resolved hub", "instance", entry.Instance, "url", url)
	return url, true
}

// entryHost prefers an IPv4 address, then IPv6, then the advertised host name.
func entryHost(entry *zeroconf.ServiceEntry) string {
	switch {
	case len(entry.AddrIPv4) > 0:
		return entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		return entry.AddrIPv6[0].String()
	default:
		return entry.HostName
	}
}

func (r *MDNSResolver) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if r.config.Interface != "" {
		if iface, err := net.InterfaceByName(r.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

var _ Resolver = (*MDNSResolver)(nil)
