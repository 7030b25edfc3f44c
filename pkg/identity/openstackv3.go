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
	v3projects "github.com/gophercloud/gophercloud/openstack/identity/v3/projects"
	v3tokens "github.com/gophercloud/gophercloud/openstack/identity/v3/tokens"
	v3users "github.com/gophercloud/gophercloud/openstack/identity/v3/users"
	cache "github.com/patrickmn/go-cache"
	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/keys"
	"github.com/yahoojapan/k2hr3-api/pkg/keystone"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// openStackV3Driver authenticates against a keystone v3 service resolved
// through the endpoint resolver. Keystone is the source of truth for every
// token it issues; the persisted seed exists only so that stored-token
// lookups can route back to this provider.
type openStackV3Driver struct {
	store       *token.Store
	resolver    *keystone.Resolver
	tenantCache *cache.Cache
	clock       func() time.Time
}

// OpenStackV3 creates the keystone v3 credential provider.
func OpenStackV3(st *token.Store, resolver *keystone.Resolver) Provider {
	return &openStackV3Driver{
		store:       st,
		resolver:    resolver,
		tenantCache: cache.New(viper.GetDuration("keystone.token_cache_time"), time.Minute),
		clock:       time.Now,
	}
}

func (d *openStackV3Driver) IssueUnscopedToken(ctx context.Context, user, credential string) (*TokenResult, error) {
	if user == "" || credential == "" {
		return nil, token.NewError(token.KindInvalidInput, "user name and password are both required")
	}
	client, region, err := d.client(ctx, "")
	if err != nil {
		return nil, err
	}
	domainID := viper.GetString("keystone.domain_id")
	if domainID == "" {
		domainID = "default"
	}
	result := v3tokens.Create(client, &v3tokens.AuthOptions{
		Username: user,
		Password: credential,
		DomainID: domainID,
	})
	return d.extract(result, user, "", region)
}

func (d *openStackV3Driver) IssueScopedToken(ctx context.Context, unscopedToken, tenantName, tenantID string) (*TokenResult, error) {
	if tenantName == "" && tenantID == "" {
		return nil, token.NewError(token.KindInvalidInput, "no tenant given for scoped token")
	}
	client, region, err := d.client(ctx, unscopedToken)
	if err != nil {
		return nil, err
	}
	result := v3tokens.Create(client, &v3tokens.AuthOptions{
		TokenID: unscopedToken,
		Scope: v3tokens.Scope{
			ProjectID:   tenantID,
			ProjectName: tenantName,
		},
	})
	return d.extract(result, "", tenantName, region)
}

func (d *openStackV3Driver) extract(result v3tokens.CreateResult, fallbackUser, tenant, region string) (*TokenResult, error) {
	osToken, err := result.ExtractToken()
	if err != nil {
		return nil, token.NewError(token.KindVerificationFailed, "keystone rejected the credentials: %s", err.Error())
	}
	osUser, err := result.ExtractUser()
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "keystone response carries no user: %s", err.Error())
	}
	user := osUser.Name
	if user == "" {
		user = fallbackUser
	}
	user = strings.ToLower(user)
	tenant = strings.ToLower(tenant)
	// v3 subject ids are already canonical UUIDs, passed through unchanged
	userID := osUser.ID

	if err := d.store.SetUserID(user, userID); err != nil {
		return nil, err
	}
	seed := &token.Seed{
		Publisher: token.PublisherOpenStackV3,
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

// VerifyToken is a pass. Keystone v3 keeps no locally verifiable seed and
// remains the sole authority over its tokens.
func (d *openStackV3Driver) VerifyToken(ctx context.Context, user, tenant, tok string, seed *token.Seed) error {
	util.LogWarning("skipping local verification for token of user %s, keystone v3 is the source of truth", seed.User)
	return nil
}

func (d *openStackV3Driver) VerifyPublisher(seed *token.Seed) bool {
	return seed.Publisher == token.PublisherOpenStackV3
}

func (d *openStackV3Driver) ListTenants(ctx context.Context, unscopedToken, userID string) ([]Tenant, error) {
	if cached, ok := d.tenantCache.Get(unscopedToken); ok {
		return cached.([]Tenant), nil
	}
	client, _, err := d.client(ctx, unscopedToken)
	if err != nil {
		return nil, err
	}
	allPages, err := v3users.ListProjects(client, userID).AllPages()
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "cannot list keystone projects of user %s: %s", userID, err.Error())
	}
	osProjects, err := v3projects.ExtractProjects(allPages)
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "cannot parse keystone project list: %s", err.Error())
	}

	tenants := make([]Tenant, 0, len(osProjects))
	for _, p := range osProjects {
		if !p.Enabled {
			continue
		}
		tenants = append(tenants, Tenant{
			Name:        p.Name,
			ID:          p.ID,
			Description: p.Description,
			Display:     p.Name,
		})
	}
	d.tenantCache.Set(unscopedToken, tenants, cache.DefaultExpiration)
	return tenants, nil
}

func (d *openStackV3Driver) client(ctx context.Context, tok string) (*gophercloud.ServiceClient, string, error) {
	ep, err := d.resolver.Resolve(ctx, keystone.ResolveOptions{WantV3: true, Test: true, AllowRebuild: true})
	if err != nil {
		return nil, "", token.NewError(token.KindUpstreamUnavailable, "no keystone endpoint available: %s", err.Error())
	}
	provider := &gophercloud.ProviderClient{TokenID: tok, Context: ctx}
	return &gophercloud.ServiceClient{
		ProviderClient: provider,
		Endpoint:       strings.TrimRight(ep.URL, "/") + "/v3/",
	}, ep.Region, nil
}
