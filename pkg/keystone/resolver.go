/*******************************************************************************
*
* Copyright 2018 Yahoo Japan Corporation
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

// Package keystone resolves, caches, health-checks and fails over among the
// identity endpoints the credential providers talk to. Known-good
// endpoint/region pairs are persisted in the KV store so that resolution
// results are shared across processes.
package keystone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/keys"
	"github.com/yahoojapan/k2hr3-api/pkg/storage"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// Endpoint types. A substitute endpoint is a placeholder persisted for
// deployments whose identity provider needs no external identity service;
// it is never probed and always counts as usable.
const (
	EndpointTypeKeystone   = "keystone"
	EndpointTypeSubstitute = "substitute"
)

const (
	// DefaultResolveTimeout bounds a whole resolution including probes.
	DefaultResolveTimeout = 30 * time.Second
	// DefaultProbeTimeout bounds a single endpoint probe.
	DefaultProbeTimeout = 5 * time.Second

	// StatusUnreachable is recorded for endpoints whose probe timed out or
	// failed at the transport level.
	StatusUnreachable = http.StatusGatewayTimeout
)

// Endpoint is a resolved identity endpoint together with its last known
// probe status. Status 0 means never checked; anything below 500 counts as
// usable (a 401 from an intentionally-invalid probe still proves
// reachability).
type Endpoint struct {
	URL    string `json:"url"`
	Region string `json:"region"`
	Type   string `json:"type"`
	Status int    `json:"status"`
}

func (e *Endpoint) usable() bool {
	return e.Status < http.StatusInternalServerError
}

// LookupFunc fetches a fresh region-to-URL endpoint map from an external
// source. It is supplied by configuration for deployments whose endpoint
// set is dynamic; when nil, the static keystone.eplist configuration is
// used instead.
type LookupFunc func(ctx context.Context) (map[string]string, error)

// ResolveOptions control a single resolution.
type ResolveOptions struct {
	// WantV3 selects the v3 probe path instead of v2.0.
	WantV3 bool
	// Test requests that rebuilt endpoints are probed before adoption.
	Test bool
	// Timeout bounds the whole resolution; zero means DefaultResolveTimeout.
	Timeout time.Duration
	// AllowRebuild permits fetching and probing a fresh endpoint set when
	// neither the cache nor the persisted map yields a usable endpoint.
	AllowRebuild bool
}

// Resolver owns the single-slot endpoint cache and the persisted endpoint
// map. The cache is deliberately returned without re-checking: stale data
// is preferred over blocking every auth request on a health check. It is
// invalidated only on process restart or an explicit Invalidate.
type Resolver struct {
	kv     storage.Driver
	lookup LookupFunc
	client *retryablehttp.Client
	clock  func() time.Time

	mu           sync.Mutex
	lastRegion   string
	lastEndpoint *Endpoint
}

// NewResolver creates an endpoint resolver on the given storage driver. The
// lookup callback may be nil, in which case the static endpoint list from
// the configuration is used.
func NewResolver(kv storage.Driver, lookup LookupFunc) *Resolver {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.HTTPClient = &http.Client{}
	// a 5xx probe answer is a result to record, not something to retry
	client.CheckRetry = func(_ context.Context, _ *http.Response, err error) (bool, error) {
		return false, err
	}
	return &Resolver{
		kv:     kv,
		lookup: lookup,
		client: client,
		clock:  time.Now,
	}
}

// Invalidate clears the in-memory endpoint cache so that the next Resolve
// re-reads the persisted map (explicit re-test).
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRegion = ""
	r.lastEndpoint = nil
}

// Resolve returns a usable identity endpoint. Resolution failure must be
// treated by callers as a hard auth failure, never as a reason to skip
// verification.
func (r *Resolver) Resolve(ctx context.Context, opts ResolveOptions) (*Endpoint, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// pass 1: cache, then persisted map
	if ep := r.cached(); ep != nil {
		return ep, nil
	}
	ep, err := r.adoptFromStore()
	if err != nil {
		return nil, err
	}
	if ep != nil {
		return ep, nil
	}

	if !opts.AllowRebuild {
		return nil, fmt.Errorf("no usable identity endpoint known and rebuild not allowed")
	}

	// pass 2: rebuild the endpoint set, optionally probing it, then scan
	// the persisted map again
	if err := r.rebuild(ctx, opts); err != nil {
		return nil, err
	}
	ep, err = r.adoptFromStore()
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, fmt.Errorf("no identity endpoint is reachable")
	}
	return ep, nil
}

func (r *Resolver) cached() *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastEndpoint == nil {
		return nil
	}
	copied := *r.lastEndpoint
	return &copied
}

func (r *Resolver) adopt(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRegion = ep.Region
	r.lastEndpoint = &ep
}

// adoptFromStore scans the persisted endpoint map for the first entry whose
// status is not a definite hard failure and adopts it as the cache.
func (r *Resolver) adoptFromStore() (*Endpoint, error) {
	entryKeys, err := r.kv.List(keys.Build("", "", "").KeystoneTopKey + ":")
	if err != nil {
		return nil, fmt.Errorf("cannot list persisted endpoints: %w", err)
	}
	for _, key := range entryKeys {
		raw, found, err := r.kv.Get(key)
		if err != nil {
			return nil, fmt.Errorf("cannot read persisted endpoint %s: %w", key, err)
		}
		if !found {
			continue
		}
		var ep Endpoint
		if err := json.Unmarshal([]byte(raw), &ep); err != nil {
			util.LogWarning("Skipping malformed persisted endpoint at %s", key)
			continue
		}
		if ep.usable() {
			util.LogDebug("adopting endpoint %s (region %s, status %d)", ep.URL, ep.Region, ep.Status)
			r.adopt(ep)
			return &ep, nil
		}
	}
	return nil, nil
}

// rebuild fetches a fresh endpoint set and persists it, probing each
// endpoint first when requested. All probes run concurrently; the persisted
// statuses are written only after every probe has completed.
func (r *Resolver) rebuild(ctx context.Context, opts ResolveOptions) error {
	endpoints, err := r.fetchEndpointSet(ctx)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("no identity endpoints configured (keystone.eplist)")
	}

	if opts.Test {
		r.probeAll(ctx, endpoints, opts.WantV3)
	}

	for i := range endpoints {
		if err := r.persist(&endpoints[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) fetchEndpointSet(ctx context.Context) ([]Endpoint, error) {
	var urlsByRegion map[string]string
	if r.lookup != nil {
		fetched, err := r.lookup(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamic endpoint lookup failed: %w", err)
		}
		urlsByRegion = fetched
	} else {
		urlsByRegion = viper.GetStringMapString("keystone.eplist")
	}

	epType := viper.GetString("keystone.ep_type")
	if epType == "" {
		epType = EndpointTypeKeystone
	}

	endpoints := make([]Endpoint, 0, len(urlsByRegion))
	for region, endpointURL := range urlsByRegion {
		endpoints = append(endpoints, Endpoint{
			URL: endpointURL,
			// region names are folded to lower case consistently; some
			// upstream catalogs mix cases for the same region
			Region: strings.ToLower(region),
			Type:   epType,
		})
	}
	return endpoints, nil
}

// probeAll probes every endpoint concurrently and joins on all of them. The
// WaitGroup fires the join exactly once even when two probes finish
// simultaneously.
func (r *Resolver) probeAll(ctx context.Context, endpoints []Endpoint, wantV3 bool) {
	probeTimeout := viper.GetDuration("keystone.probe_timeout")
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	var wg sync.WaitGroup
	for i := range endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			ep.Status = r.probe(ctx, ep, wantV3, probeTimeout)
			util.LogDebug("probe of %s (region %s) finished with status %d", ep.URL, ep.Region, ep.Status)
		}(&endpoints[i])
	}
	wg.Wait()
}

// probe checks an endpoint's reachability with an intentionally-invalid
// credential request. The expected outcome is an auth failure; any response
// below 500 proves the endpoint alive. A timed-out or transport-failed
// probe is recorded as 504 and does not block the other probes.
func (r *Resolver) probe(ctx context.Context, ep *Endpoint, wantV3 bool, timeout time.Duration) int {
	if ep.Type == EndpointTypeSubstitute {
		return http.StatusOK
	}

	path := "/v2.0/tokens"
	body := `{"auth":{"passwordCredentials":{"username":"k2hr3-epcheck","password":"invalid"}}}`
	if wantV3 {
		path = "/v3/auth/tokens"
		body = `{"auth":{"identity":{"methods":["password"],"password":{"user":{"domain":{"id":"default"},"name":"k2hr3-epcheck","password":"invalid"}}}}}`
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(probeCtx, http.MethodPost, strings.TrimRight(ep.URL, "/")+path, bytes.NewReader([]byte(body)))
	if err != nil {
		util.LogWarning("cannot build probe request for %s: %s", ep.URL, err.Error())
		return StatusUnreachable
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		util.LogInfo("endpoint %s (region %s) unreachable: %s", ep.URL, ep.Region, err.Error())
		return StatusUnreachable
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func (r *Resolver) persist(ep *Endpoint) error {
	raw, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	if err := r.kv.Set(keys.EndpointKey(ep.Region), string(raw)); err != nil {
		return fmt.Errorf("cannot persist endpoint for region %s: %w", ep.Region, err)
	}
	return nil
}
