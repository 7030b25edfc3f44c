// SPDX-FileCopyrightText: 2018 Yahoo Japan Corporation
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yahoojapan/k2hr3-api/pkg/identity"
	"github.com/yahoojapan/k2hr3-api/pkg/storage"
	"github.com/yahoojapan/k2hr3-api/pkg/test"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
)

func setupTest() http.Handler {
	viper.Reset()
	st := token.NewStore(storage.Mock())
	broker := identity.NewBroker(identity.Dummy(st))
	return setupRouter(broker, st)
}

func TestAPIMetadata(t *testing.T) {
	router := setupTest()

	test.APIRequest{
		Method:           "GET",
		Path:             "/v1",
		ExpectStatusCode: http.StatusMultipleChoices,
		ExpectJSON:       "fixtures/api-metadata.json",
	}.Check(t, router)
}

func issueRequestBody(user, password, tenant string) map[string]interface{} {
	auth := map[string]interface{}{}
	if user != "" {
		auth["passwordCredentials"] = map[string]string{"username": user, "password": password}
	}
	if tenant != "" {
		auth["tenantName"] = tenant
	}
	return map[string]interface{}{"auth": auth}
}

func TestTokenLifecycle(t *testing.T) {
	router := setupTest()

	// 1. unscoped token from credentials
	body := test.APIRequest{
		Method:           "POST",
		Path:             "/v1/user/tokens",
		RequestJSON:      issueRequestBody("alice", "secret", ""),
		ExpectStatusCode: http.StatusCreated,
	}.Check(t, router)

	var issued struct {
		Result bool   `json:"result"`
		Token  string `json:"token"`
		Scoped bool   `json:"scoped"`
	}
	require.Nil(t, json.Unmarshal(body, &issued))
	assert.True(t, issued.Result)
	assert.False(t, issued.Scoped)
	require.Len(t, issued.Token, 32)

	// 2. token info carries the tenant list, legacy U= prefix accepted
	body = test.APIRequest{
		Method:           "GET",
		Path:             "/v1/user/tokens",
		Headers:          map[string]string{"X-Auth-Token": "U=" + issued.Token},
		ExpectStatusCode: http.StatusOK,
	}.Check(t, router)

	var info struct {
		Result  bool              `json:"result"`
		Scoped  bool              `json:"scoped"`
		User    string            `json:"user"`
		Tenant  string            `json:"tenant"`
		Tenants []identity.Tenant `json:"tenants"`
	}
	require.Nil(t, json.Unmarshal(body, &info))
	assert.Equal(t, "alice", info.User)
	assert.False(t, info.Scoped)
	assert.Len(t, info.Tenants, 5)

	// 3. scope the token to a tenant
	body = test.APIRequest{
		Method:           "POST",
		Path:             "/v1/user/tokens",
		Headers:          map[string]string{"X-Auth-Token": issued.Token},
		RequestJSON:      issueRequestBody("", "", "tenant1"),
		ExpectStatusCode: http.StatusCreated,
	}.Check(t, router)

	var scoped struct {
		Token  string `json:"token"`
		Scoped bool   `json:"scoped"`
	}
	require.Nil(t, json.Unmarshal(body, &scoped))
	assert.True(t, scoped.Scoped)
	assert.NotEqual(t, issued.Token, scoped.Token)

	// 4. scoped token info names the tenant and lists nothing
	body = test.APIRequest{
		Method:           "GET",
		Path:             "/v1/user/tokens",
		Headers:          map[string]string{"X-Auth-Token": scoped.Token},
		ExpectStatusCode: http.StatusOK,
	}.Check(t, router)
	info.Tenants = nil // json.Unmarshal leaves absent fields untouched
	require.Nil(t, json.Unmarshal(body, &info))
	assert.True(t, info.Scoped)
	assert.Equal(t, "tenant1", info.Tenant)
	assert.Empty(t, info.Tenants)

	// 5. cheap validity checks
	test.APIRequest{
		Method:           "HEAD",
		Path:             "/v1/user/tokens",
		Headers:          map[string]string{"X-Auth-Token": scoped.Token},
		ExpectStatusCode: http.StatusNoContent,
	}.Check(t, router)
	test.APIRequest{
		Method:           "HEAD",
		Path:             "/v1/user/tokens",
		Headers:          map[string]string{"X-Auth-Token": "00000000000000000000000000000000"},
		ExpectStatusCode: http.StatusUnauthorized,
	}.Check(t, router)
}

func TestPostRejectsMalformedBody(t *testing.T) {
	router := setupTest()

	test.APIRequest{
		Method:           "POST",
		Path:             "/v1/user/tokens",
		RequestJSON:      "not an auth object",
		ExpectStatusCode: http.StatusBadRequest,
	}.Check(t, router)
}

func TestPostTokenWithoutTenant(t *testing.T) {
	router := setupTest()

	test.APIRequest{
		Method:           "POST",
		Path:             "/v1/user/tokens",
		Headers:          map[string]string{"X-Auth-Token": "00112233445566778899aabbccddeeff"},
		RequestJSON:      map[string]interface{}{"auth": map[string]interface{}{}},
		ExpectStatusCode: http.StatusBadRequest,
	}.Check(t, router)
}

func TestGetWithoutTokenIsRejected(t *testing.T) {
	router := setupTest()

	test.APIRequest{
		Method:           "GET",
		Path:             "/v1/user/tokens",
		ExpectStatusCode: http.StatusBadRequest,
	}.Check(t, router)
}

func TestGetUnknownToken(t *testing.T) {
	router := setupTest()

	test.APIRequest{
		Method:           "GET",
		Path:             "/v1/user/tokens",
		Headers:          map[string]string{"X-Auth-Token": "ffffffffffffffffffffffffffffffff"},
		ExpectStatusCode: http.StatusNotFound,
	}.Check(t, router)
}

func TestPolicyRules(t *testing.T) {
	viper.Reset()
	policyEnforcer = nil
	defer func() { policyEnforcer = nil }()

	policyFile := filepath.Join(t.TempDir(), "policy.json")
	require.Nil(t, os.WriteFile(policyFile, []byte(`{"tokens:create": "!", "tokens:show": ""}`), 0600))
	viper.Set("k2hr3.policy_file", policyFile)

	assert.False(t, authorized("tokens:create", "alice"))
	assert.True(t, authorized("tokens:show", "alice"))
}
