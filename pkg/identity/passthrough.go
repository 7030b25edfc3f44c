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

	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// passthroughDriver is a null verifier for deployments whose tokens are
// verified entirely outside this service. It never issues anything; it
// only accepts seeds whose publisher appears in the configured list
// (k2hr3.passthrough_publishers).
type passthroughDriver struct{}

// Passthrough creates the null verifier.
func Passthrough() Provider {
	return &passthroughDriver{}
}

func (d *passthroughDriver) IssueUnscopedToken(ctx context.Context, user, credential string) (*TokenResult, error) {
	return nil, token.NewError(token.KindInvalidInput, "the passthrough provider does not issue tokens")
}

func (d *passthroughDriver) IssueScopedToken(ctx context.Context, unscopedToken, tenantName, tenantID string) (*TokenResult, error) {
	return nil, token.NewError(token.KindInvalidInput, "the passthrough provider does not issue tokens")
}

func (d *passthroughDriver) VerifyToken(ctx context.Context, user, tenant, tok string, seed *token.Seed) error {
	util.LogDebug("passing through token of user %s published by %q", seed.User, seed.Publisher)
	return nil
}

func (d *passthroughDriver) VerifyPublisher(seed *token.Seed) bool {
	for _, publisher := range viper.GetStringSlice("k2hr3.passthrough_publishers") {
		if seed.Publisher == publisher {
			return true
		}
	}
	return false
}

func (d *passthroughDriver) ListTenants(ctx context.Context, unscopedToken, userID string) ([]Tenant, error) {
	return nil, token.NewError(token.KindInvalidInput, "the passthrough provider has no tenant source")
}
