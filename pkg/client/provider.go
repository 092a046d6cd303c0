package client

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/corvidlabs/janusbroker/pkg/manifest"
	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// manifestFetcher is the minimal surface Provider needs from a Client to
// issue the internal "manifest" request, so Provider does not depend on
// the concrete Client type (which holds a *Provider).
type manifestFetcher func() (*wire.Response, error)

// Provider lazily fetches and caches the server's manifest. A validated
// call only triggers a fetch the first time; afterward the cached copy is
// used until Refresh is called explicitly.
type Provider struct {
	mu     sync.RWMutex
	cached *manifest.Manifest
	fetch  manifestFetcher
	parser *manifest.Parser
}

// NewProvider builds a Provider that calls fetch to obtain the manifest
// document on first use or explicit refresh.
func NewProvider(fetch manifestFetcher) *Provider {
	return &Provider{fetch: fetch, parser: manifest.NewParser()}
}

// Get returns the cached manifest, fetching it first if absent.
func (p *Provider) Get() (*manifest.Manifest, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	return p.Refresh()
}

// Refresh forces a fetch of the server's manifest, replacing any cached
// copy on success.
func (p *Provider) Refresh() (*manifest.Manifest, error) {
	resp, err := p.fetch()
	if err != nil {
		return nil, errors.Wrap(err, "manifest provider: fetch")
	}
	if resp.Error != nil {
		return nil, errors.Wrap(resp.Error, "manifest provider: server returned an error")
	}

	doc, err := reencode(resp.Result)
	if err != nil {
		return nil, errors.Wrap(err, "manifest provider: re-encode manifest result")
	}
	m, err := p.parser.ParseJSON(doc)
	if err != nil {
		return nil, errors.Wrap(err, "manifest provider: parse manifest document")
	}

	p.mu.Lock()
	p.cached = m
	p.mu.Unlock()
	return m, nil
}

// Cached returns the currently cached manifest without fetching, or nil if
// none has been fetched yet.
func (p *Provider) Cached() *manifest.Manifest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}
