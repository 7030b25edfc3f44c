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

// Package identity contains the pluggable identity providers that
// authenticate users and mint security tokens. Exactly one provider is
// active per deployment; the Broker additionally routes verification of
// stored tokens to whichever provider published them.
package identity

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/keystone"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
)

// TokenResult is the outcome of a successful token issuance.
type TokenResult struct {
	User      string
	UserID    string
	Token     string
	Tenant    string
	Region    string
	Scoped    bool
	ExpiresAt time.Time
}

// Tenant is one entry of a user's tenant list.
type Tenant struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Description string `json:"description"`
	Display     string `json:"display"`
}

// Provider is an interface that wraps authentication of users, minting of
// unscoped and scoped tokens, and verification of already issued tokens.
// Because it is an interface, the real implementations can be mocked away
// in unit tests.
type Provider interface {
	// IssueUnscopedToken authenticates the user with the given credential
	// (password or signed assertion, depending on the variant) and returns
	// a fresh token without tenant scope.
	IssueUnscopedToken(ctx context.Context, user, credential string) (*TokenResult, error)

	// IssueScopedToken re-verifies the presented unscoped token and mints
	// a token scoped to the given tenant. A token already scoped to a
	// different tenant is rejected.
	IssueScopedToken(ctx context.Context, unscopedToken, tenantName, tenantID string) (*TokenResult, error)

	// VerifyToken checks a presented token against its stored seed. The
	// user may be empty when the caller only knows the token itself.
	VerifyToken(ctx context.Context, user, tenant, tok string, seed *token.Seed) error

	// VerifyPublisher reports whether this provider published the given
	// seed, so the broker can route verification without attempting it
	// against the wrong provider.
	VerifyPublisher(seed *token.Seed) bool

	// ListTenants returns the tenants the authenticated user may scope a
	// token to.
	ListTenants(ctx context.Context, unscopedToken, userID string) ([]Tenant, error)
}

// NewProviderDriver is a factory method which chooses the right provider
// implementation based on configuration settings. The choice is static for
// the lifetime of the process.
func NewProviderDriver(st *token.Store, resolver *keystone.Resolver) Provider {
	driverName := viper.GetString("k2hr3.identity_driver")
	switch driverName {
	case "dummy", "":
		return Dummy(st)
	case "openstackv2":
		return OpenStackV2(st, resolver)
	case "openstackv3":
		return OpenStackV3(st, resolver)
	case "k8soidc":
		return K8sOidc(st)
	case "passthrough":
		return Passthrough()
	default:
		panic(fmt.Errorf("couldn't match an identity driver for configured value \"%s\"", driverName))
	}
}

// tokenLifetime returns the configured default token lifetime.
func tokenLifetime() time.Duration {
	lifetime := viper.GetDuration("k2hr3.token_lifetime")
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	return lifetime
}

// normalizeSubjectID folds the subject id formats of the different identity
// services into canonical UUID4 text. Dashed and bare 32-hex ids parse
// directly; a decimal id (kubernetes service account style) is zero-padded
// into the 128-bit space; anything else maps to a name-derived UUID so the
// result is still deterministic per subject.
func normalizeSubjectID(raw string) string {
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	if n, ok := new(big.Int).SetString(raw, 10); ok && n.Sign() >= 0 && n.BitLen() <= 128 {
		if id, err := uuid.Parse(fmt.Sprintf("%032x", n)); err == nil {
			return id.String()
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(raw)).String()
}
