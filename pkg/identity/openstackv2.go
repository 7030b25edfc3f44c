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

package identity

import (
	"context"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud"
	v2tenants "github.com/gophercloud/gophercloud/openstack/identity/v2/tenants"
	v2tokens "github.com/gophercloud/gophercloud/openstack/identity/v2/tokens"
	cache "github.com/patrickmn/go-cache"
	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/keys"
	"github.com/yahoojapan/k2hr3-api/pkg/keystone"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// openStackV2Driver authenticates against a keystone v2.0 service resolved
// through the endpoint resolver. The keystone token itself is handed back
// to the client; the locally persisted seed carries only the publisher tag
// for verification routing, since keystone remains the source of truth for
// the token's validity.
type openStackV2Driver struct {
	store       *token.Store
	resolver    *keystone.Resolver
	tenantCache *cache.Cache
	clock       func() time.Time
}

// OpenStackV2 creates the keystone v2.0 credential provider.
func OpenStackV2(st *token.Store, resolver *keystone.Resolver) Provider {
	return &openStackV2Driver{
		store:       st,
		resolver:    resolver,
		tenantCache: cache.New(viper.GetDuration("keystone.token_cache_time"), time.Minute),
		clock:       time.Now,
	}
}

func (d *openStackV2Driver) IssueUnscopedToken(ctx context.Context, user, credential string) (*TokenResult, error) {
	if user == "" || credential == "" {
		return nil, token.NewError(token.KindInvalidInput, "user name and password are both required")
	}
	client, region, err := d.client(ctx, "")
	if err != nil {
		return nil, err
	}
	result := v2tokens.Create(client, &v2tokens.AuthOptions{Username: user, Password: credential})
	return d.extract(result, user, "", region)
}

func (d *openStackV2Driver) IssueScopedToken(ctx context.Context, unscopedToken, tenantName, tenantID string) (*TokenResult, error) {
	if tenantName == "" && tenantID == "" {
		return nil, token.NewError(token.KindInvalidInput, "no tenant given for scoped token")
	}
	client, region, err := d.client(ctx, "")
	if err != nil {
		return nil, err
	}
	result := v2tokens.Create(client, &v2tokens.AuthOptions{
		TokenID:    unscopedToken,
		TenantName: tenantName,
		TenantID:   tenantID,
	})
	return d.extract(result, "", tenantName, region)
}

// extract turns a keystone create response into a token result and persists
// the routing seed for the returned token.
func (d *openStackV2Driver) extract(result v2tokens.CreateResult, fallbackUser, tenant, region string) (*TokenResult, error) {
	osToken, err := result.ExtractToken()
	if err != nil {
		return nil, token.NewError(token.KindVerificationFailed, "keystone rejected the credentials: %s", err.Error())
	}
	osUser, err := v2tokens.GetResult{CreateResult: result}.ExtractUser()
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "keystone response carries no user: %s", err.Error())
	}
	user := osUser.Name
	if user == "" {
		user = fallbackUser
	}
	user = strings.ToLower(user)
	tenant = strings.ToLower(tenant)
	userID := normalizeSubjectID(osUser.ID)

	if err := d.store.SetUserID(user, userID); err != nil {
		return nil, err
	}
	seed := &token.Seed{
		Publisher: token.PublisherOpenStackV2,
		Date:      d.clock().UTC().Format(time.RFC3339),
		Expire:    osToken.ExpiresAt.UTC().Format(time.RFC3339),
		Creator:   keys.Build(user, "", "").UserKey,
		User:      user,
		Tenant:    tenant,
	}
	if err := d.store.Persist(osToken.ID, user, tenant, seed); err != nil {
		return nil, err
	}

	return &TokenResult{
		User:      user,
		UserID:    userID,
		Token:     osToken.ID,
		Tenant:    tenant,
		Region:    region,
		Scoped:    tenant != "",
		ExpiresAt: osToken.ExpiresAt,
	}, nil
}

// VerifyToken trusts keystone transitively. The locally stored seed has no
// verifiable payload, so only the recorded expiry is checked here.
func (d *openStackV2Driver) VerifyToken(ctx context.Context, user, tenant, tok string, seed *token.Seed) error {
	if err := seed.CheckExpiry(d.clock()); err != nil {
		return err
	}
	if tenant != seed.Tenant {
		return token.NewError(token.KindVerificationFailed, "token of user %s is not scoped to tenant %q", seed.User, tenant)
	}
	util.LogDebug("token of user %s accepted on keystone v2 trust", seed.User)
	return nil
}

func (d *openStackV2Driver) VerifyPublisher(seed *token.Seed) bool {
	return seed.Publisher == token.PublisherOpenStackV2
}

func (d *openStackV2Driver) ListTenants(ctx context.Context, unscopedToken, userID string) ([]Tenant, error) {
	if cached, ok := d.tenantCache.Get(unscopedToken); ok {
		return cached.([]Tenant), nil
	}
	client, _, err := d.client(ctx, unscopedToken)
	if err != nil {
		return nil, err
	}
	allPages, err := v2tenants.List(client, &v2tenants.ListOpts{}).AllPages()
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "cannot list keystone tenants: %s", err.Error())
	}
	osTenants, err := v2tenants.ExtractTenants(allPages)
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "cannot parse keystone tenant list: %s", err.Error())
	}

	tenants := make([]Tenant, 0, len(osTenants))
	for _, t := range osTenants {
		if !t.Enabled {
			continue
		}
		tenants = append(tenants, Tenant{
			Name:        t.Name,
			ID:          t.ID,
			Description: t.Description,
			Display:     t.Name,
		})
	}
	d.tenantCache.Set(unscopedToken, tenants, cache.DefaultExpiration)
	return tenants, nil
}

// client builds a service client against the currently resolved endpoint.
// tok is set as the request token for calls that need authentication.
func (d *openStackV2Driver) client(ctx context.Context, tok string) (*gophercloud.ServiceClient, string, error) {
	ep, err := d.resolver.Resolve(ctx, keystone.ResolveOptions{Test: true, AllowRebuild: true})
	if err != nil {
		return nil, "", token.NewError(token.KindUpstreamUnavailable, "no keystone endpoint available: %s", err.Error())
	}
	provider := &gophercloud.ProviderClient{TokenID: tok, Context: ctx}
	return &gophercloud.ServiceClient{
		ProviderClient: provider,
		Endpoint:       strings.TrimRight(ep.URL, "/") + "/v2.0/",
	}, ep.Region, nil
}
