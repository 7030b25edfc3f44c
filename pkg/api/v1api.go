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

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/yahoojapan/k2hr3-api/pkg/identity"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// class for the v1 API provider implementation
type v1Provider struct {
	broker *identity.Broker
	store  *token.Store
}

// NewV1Handler creates a http.Handler that serves the v1 API.
// This code is structured so that a newer API version can be added easily
// later.
func NewV1Handler(broker *identity.Broker, store *token.Store) http.Handler {
	r := mux.NewRouter()
	p := &v1Provider{broker: broker, store: store}

	r.Methods(http.MethodPost).Path("/user/tokens").HandlerFunc(p.PostUserTokens)
	r.Methods(http.MethodGet).Path("/user/tokens").HandlerFunc(p.GetUserTokens)
	r.Methods(http.MethodHead).Path("/user/tokens").HandlerFunc(p.HeadUserTokens)

	return r
}

// tokenRequest is the body of POST /v1/user/tokens. Either the credentials
// are set (unscoped issuance) or the X-Auth-Token header carries an
// unscoped token and the tenant fields select the scope.
type tokenRequest struct {
	Auth struct {
		TenantName          string `json:"tenantName"`
		TenantID            string `json:"tenantId"`
		PasswordCredentials struct {
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"passwordCredentials"`
	} `json:"auth"`
}

// tokenResponse is the body returned by POST /v1/user/tokens.
type tokenResponse struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
	Token   string `json:"token"`
	Scoped  bool   `json:"scoped"`
	Expire  string `json:"expire"`
}

// tokenInfoResponse is the body returned by GET /v1/user/tokens.
type tokenInfoResponse struct {
	Result  bool              `json:"result"`
	Message string            `json:"message"`
	Scoped  bool              `json:"scoped"`
	User    string            `json:"user"`
	Tenant  string            `json:"tenant,omitempty"`
	Tenants []identity.Tenant `json:"tenants,omitempty"`
}

// PostUserTokens handles POST /v1/user/tokens: unscoped issuance from
// credentials, or scoped issuance from an unscoped token plus tenant.
func (p *v1Provider) PostUserTokens(w http.ResponseWriter, req *http.Request) {
	var body tokenRequest
	if req.Body != nil {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			ReturnError(w, token.NewError(token.KindInvalidInput, "request body is not valid JSON"))
			return
		}
	}

	ctx := req.Context()
	provider := p.broker.Active()

	var result *identity.TokenResult
	var err error
	if presented := presentedToken(req); presented != "" {
		if body.Auth.TenantName == "" && body.Auth.TenantID == "" {
			ReturnError(w, token.NewError(token.KindInvalidInput, "a token was presented but no tenant to scope to"))
			return
		}
		result, err = provider.IssueScopedToken(ctx, presented, body.Auth.TenantName, body.Auth.TenantID)
	} else {
		user := body.Auth.PasswordCredentials.Username
		if !authorized("tokens:create", user) {
			ReturnJSON(w, http.StatusForbidden, errorResponse{Result: false, Message: "not allowed to create tokens"})
			return
		}
		result, err = provider.IssueUnscopedToken(ctx, user, body.Auth.PasswordCredentials.Password)
	}
	if err != nil {
		util.LogInfo("token issuance failed: %s", err.Error())
		ReturnError(w, err)
		return
	}

	ReturnJSON(w, http.StatusCreated, tokenResponse{
		Result: true,
		Token:  result.Token,
		Scoped: result.Scoped,
		Expire: result.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// GetUserTokens handles GET /v1/user/tokens: verify the presented token and
// return its owner together with the user's tenant list.
func (p *v1Provider) GetUserTokens(w http.ResponseWriter, req *http.Request) {
	user, tenant, seed, err := p.verifyPresented(req)
	if err != nil {
		ReturnError(w, err)
		return
	}
	if !authorized("tokens:show", user) {
		ReturnJSON(w, http.StatusForbidden, errorResponse{Result: false, Message: "not allowed to inspect tokens"})
		return
	}

	info := tokenInfoResponse{
		Result: true,
		Scoped: seed.Scoped(),
		User:   user,
		Tenant: tenant,
	}
	if !seed.Scoped() && authorized("tenants:list", user) {
		userID, idErr := p.store.UserID(user)
		if idErr != nil {
			userID = ""
		}
		tenants, listErr := p.broker.Active().ListTenants(req.Context(), presentedToken(req), userID)
		if listErr != nil {
			util.LogWarning("cannot list tenants of user %s: %s", user, listErr.Error())
		} else {
			info.Tenants = tenants
		}
	}
	ReturnJSON(w, http.StatusOK, info)
}

// HeadUserTokens handles HEAD /v1/user/tokens as a cheap validity check.
func (p *v1Provider) HeadUserTokens(w http.ResponseWriter, req *http.Request) {
	if _, _, _, err := p.verifyPresented(req); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifyPresented looks up the presented token and routes verification to
// the provider that published its seed.
func (p *v1Provider) verifyPresented(req *http.Request) (user, tenant string, seed *token.Seed, err error) {
	presented := presentedToken(req)
	if presented == "" {
		return "", "", nil, token.NewError(token.KindInvalidInput, "no X-Auth-Token given")
	}
	user, tenant, seed, err = p.store.Lookup(presented)
	if err != nil {
		return "", "", nil, err
	}
	if err := p.broker.Verify(req.Context(), user, tenant, presented, seed); err != nil {
		return "", "", nil, err
	}
	return user, tenant, seed, nil
}
