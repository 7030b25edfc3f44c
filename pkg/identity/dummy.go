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
	"fmt"
	"strings"
	"time"

	"github.com/yahoojapan/k2hr3-api/pkg/keys"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// dummyTenantCount is the size of the static tenant list every dummy user
// is a member of.
const dummyTenantCount = 5

// dummyDriver is an entirely local identity provider for offline testing
// and development deployments. It accepts any credential, derives tokens
// with the legacy XOR scheme and serves a static tenant list. Its seeds
// carry no publisher tag.
type dummyDriver struct {
	store *token.Store
	clock func() time.Time
}

// Dummy creates the local identity provider.
func Dummy(st *token.Store) Provider {
	return &dummyDriver{store: st, clock: time.Now}
}

func (d *dummyDriver) IssueUnscopedToken(ctx context.Context, user, credential string) (*TokenResult, error) {
	if user == "" {
		return nil, token.NewError(token.KindInvalidInput, "no user name given")
	}
	return d.mint(user, "")
}

func (d *dummyDriver) IssueScopedToken(ctx context.Context, unscopedToken, tenantName, tenantID string) (*TokenResult, error) {
	if tenantName == "" {
		return nil, token.NewError(token.KindInvalidInput, "no tenant given for scoped token")
	}
	tenantName = strings.ToLower(tenantName)
	user, tenant, seed, err := d.store.Lookup(unscopedToken)
	if err != nil {
		return nil, err
	}
	if tenant != "" && tenant != tenantName {
		return nil, token.NewError(token.KindVerificationFailed, "token of user %s is already scoped to a different tenant", user)
	}
	if err := token.Verify(seed, unscopedToken, user, tenant, "", d.clock()); err != nil {
		return nil, err
	}
	if !d.knownTenant(tenantName, tenantID) {
		return nil, token.NewError(token.KindNotFound, "user %s is not a member of tenant %s", user, tenantName)
	}
	return d.mint(user, tenantName)
}

func (d *dummyDriver) VerifyToken(ctx context.Context, user, tenant, tok string, seed *token.Seed) error {
	return token.Verify(seed, tok, user, tenant, "", d.clock())
}

func (d *dummyDriver) VerifyPublisher(seed *token.Seed) bool {
	return seed.Publisher == ""
}

func (d *dummyDriver) ListTenants(ctx context.Context, unscopedToken, userID string) ([]Tenant, error) {
	tenants := make([]Tenant, 0, dummyTenantCount)
	for i := 0; i < dummyTenantCount; i++ {
		tenants = append(tenants, Tenant{
			Name:        fmt.Sprintf("tenant%d", i),
			ID:          fmt.Sprintf("%d", 1000+i),
			Description: fmt.Sprintf("dummy tenant %d", i),
			Display:     fmt.Sprintf("dummy tenant %d", i),
		})
	}
	return tenants, nil
}

func (d *dummyDriver) knownTenant(name, id string) bool {
	for i := 0; i < dummyTenantCount; i++ {
		if name == fmt.Sprintf("tenant%d", i) {
			return id == "" || id == fmt.Sprintf("%d", 1000+i)
		}
	}
	return false
}

// mint issues a legacy-scheme token for the user, scoped to tenant when
// tenant is not empty. The verify nonce is re-rolled on a store collision
// before the token string is derived again.
func (d *dummyDriver) mint(user, tenant string) (*TokenResult, error) {
	// seeds are stored under lower-cased key paths, so the seed itself
	// carries the folded names
	user = strings.ToLower(user)
	tenant = strings.ToLower(tenant)
	now := d.clock()
	lifetime := tokenLifetime()
	seed, err := token.NewLegacySeed(keys.Build(user, "", "").UserKey, user, tenant, lifetime, now)
	if err != nil {
		return nil, err
	}

	first := true
	tok, err := d.store.MintUnique(func() (string, error) {
		if !first {
			if rerr := token.RerollVerify(seed); rerr != nil {
				return "", rerr
			}
		}
		first = false
		return token.LegacyToken(seed)
	})
	if err != nil {
		return nil, err
	}
	if err := d.store.Persist(tok, user, tenant, seed); err != nil {
		return nil, err
	}

	util.LogDebug("issued dummy token for user %s (tenant %q)", user, tenant)
	return &TokenResult{
		User:      user,
		UserID:    seed.UserExtraID,
		Token:     tok,
		Tenant:    tenant,
		Scoped:    tenant != "",
		ExpiresAt: now.UTC().Add(lifetime),
	}, nil
}
