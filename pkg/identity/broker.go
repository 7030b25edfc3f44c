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

	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// Broker wraps the active provider and routes verification of stored
// tokens by the publisher tag recorded in their seed. The active provider
// handles all issuance; verification must still reach the provider that
// actually published a seed, because tokens issued before a provider
// switch (dummy tokens, typically) remain valid until they expire.
type Broker struct {
	active    Provider
	providers []Provider
}

// NewBroker creates a broker around the active provider. Any additional
// providers take part in verification routing only.
func NewBroker(active Provider, others ...Provider) *Broker {
	return &Broker{
		active:    active,
		providers: append([]Provider{active}, others...),
	}
}

// Active returns the provider handling issuance.
func (b *Broker) Active() Provider {
	return b.active
}

// Verify routes a stored token to the provider that published its seed and
// lets that provider verify it. A seed no registered provider recognizes
// fails verification; the publisher tag is authoritative, the active
// provider is never consulted as a fallback.
func (b *Broker) Verify(ctx context.Context, user, tenant, tok string, seed *token.Seed) error {
	for _, p := range b.providers {
		if p.VerifyPublisher(seed) {
			return p.VerifyToken(ctx, user, tenant, tok, seed)
		}
	}
	util.LogWarning("token of user %s carries unknown publisher %q", seed.User, seed.Publisher)
	return token.NewError(token.KindVerificationFailed, "no identity provider recognizes publisher %q", seed.Publisher)
}
