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

// Package token implements the seed structures and derivation schemes the
// opaque security tokens are built from. A token string is recomputable
// bit-for-bit from its seed; verification succeeds iff the recomputed string
// equals the presented token, the seed is unexpired and the tenant claim
// matches the requested scope.
package token

import (
	"time"
)

// Publisher tags identifying which identity provider created a seed.
// Verification is routed strictly by this tag. Legacy seeds issued by the
// dummy provider carry no tag at all.
const (
	PublisherK8sOIDC     = "K8SOIDC"
	PublisherOpenStackV2 = "OPENSTACKV2"
	PublisherOpenStackV3 = "OPENSTACKV3"
)

// Seed is the private structure a token is derived from. It is persisted as
// JSON in the store and must never be exposed to clients.
type Seed struct {
	// Publisher routes verification to the issuing provider. Empty for
	// legacy seeds created by the dummy provider.
	Publisher string `json:"publisher,omitempty"`
	// UserExtraID is per-issuance entropy (8-byte hex for the legacy
	// scheme, UUID4 for the keyed-hash scheme).
	UserExtraID string `json:"userextraid"`
	// Verify is the random nonce of the legacy XOR scheme. Seeds of the
	// keyed-hash scheme leave it empty; its presence selects the scheme.
	Verify string `json:"verify,omitempty"`
	// Base is the secret material the public token string is derived from.
	Base string `json:"base"`

	Date   string `json:"date"`
	Expire string `json:"expire"`

	// Creator is the canonical resource path of the issuing user.
	Creator string `json:"creator"`
	User    string `json:"user"`
	// Tenant is empty for unscoped seeds.
	Tenant string `json:"tenant,omitempty"`

	// provenance metadata, carried for audit only
	Hostname string `json:"hostname,omitempty"`
	IP       string `json:"ip,omitempty"`
	Port     int    `json:"port,omitempty"`
	CUK      string `json:"cuk,omitempty"`
	Extra    string `json:"extra,omitempty"`
}

// Scoped reports whether the seed is bound to a tenant.
func (s *Seed) Scoped() bool {
	return s.Tenant != ""
}

// ExpiresAt parses the seed's expiry timestamp.
func (s *Seed) ExpiresAt() (time.Time, error) {
	return time.Parse(time.RFC3339, s.Expire)
}

// CheckExpiry returns a KindExpired error when the seed's expiry timestamp
// has passed, independent of which scheme produced the token.
func (s *Seed) CheckExpiry(now time.Time) error {
	expire, err := s.ExpiresAt()
	if err != nil {
		return NewError(KindStorageInconsistent, "seed of user %s has a malformed expiry timestamp", s.User)
	}
	if now.After(expire) {
		return NewError(KindExpired, "token of user %s expired at %s", s.User, s.Expire)
	}
	return nil
}
