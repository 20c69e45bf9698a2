// Package forwarded restores the client address from X-Forwarded-For
// when the direct peer is a trusted proxy. Belongs at the very front
// of the execution order so later modules see the real source.
package forwarded

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

type params struct {
	// TrustedProxies lists CIDR prefixes whose X-Forwarded-For headers
	// are believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type Forwarded struct {
	trusted []netip.Prefix
}

func New(deps module.Deps) (module.Handler, error) {
	var p params
	if err := mapstructure.Decode(deps.Params, &p); err != nil {
		return nil, fmt.Errorf("decoding forwarded params: %w", err)
	}
	if len(p.TrustedProxies) == 0 {
		return nil, fmt.Errorf("forwarded module needs trusted_proxies")
	}

	f := &Forwarded{}
	for _, cidr := range p.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		f.trusted = append(f.trusted, prefix)
	}
	return f, nil
}

func (f *Forwarded) HandleRequest(_ context.Context, st *pipeline.State) pipeline.HandlerResult {
	peer, err := netip.ParseAddr(st.SourceIP)
	if err != nil || !f.isTrusted(peer) {
		return pipeline.UnmodifiedContinue()
	}

	header := st.RequestHeaders.Get("X-Forwarded-For")
	if header == "" {
		return pipeline.UnmodifiedContinue()
	}

	// Walk right to left past trusted hops; the first untrusted entry
	// is the client.
	hops := strings.Split(header, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return pipeline.UnmodifiedContinue()
		}
		if !f.isTrusted(addr) {
			st.SourceIP = st.Arena().AllocString(addr.String())
			return pipeline.ModifiedContinue()
		}
	}
	return pipeline.UnmodifiedContinue()
}

func (f *Forwarded) isTrusted(addr netip.Addr) bool {
	for _, prefix := range f.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
