// SPDX-FileCopyrightText: 2018 Yahoo Japan Corporation
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/yahoojapan/k2hr3-api/pkg/storage"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
)

const testIssuer = "http://oidc.test"

func newOidcDriver() (*k8sOidcDriver, *token.Store) {
	viper.Reset()
	viper.Set("oidc.issuer_url", testIssuer)
	viper.Set("oidc.client_id", "k2hr3")
	st := token.NewStore(storage.Mock())
	return &k8sOidcDriver{store: st, clock: time.Now}, st
}

func signAssertion(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(key)
	require.Nil(t, err)
	return signed
}

// mockIssuer serves the discovery document and the key set of testIssuer.
func mockIssuer(t *testing.T, key *rsa.PrivateKey) {
	gock.New(testIssuer).
		Get("/.well-known/openid-configuration").
		Reply(200).
		JSON(map[string]interface{}{
			"issuer":                                testIssuer,
			"jwks_uri":                              testIssuer + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	gock.New(testIssuer).
		Get("/keys").
		Reply(200).
		JSON(map[string]interface{}{
			"keys": []map[string]interface{}{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
}

func TestK8sOidcIssueAndVerify(t *testing.T) {
	defer gock.Off()
	d, st := newOidcDriver()
	ctx := context.Background()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)
	mockIssuer(t, key)

	assertion := signAssertion(t, key, jwt.MapClaims{
		"iss": testIssuer,
		"aud": "k2hr3",
		"sub": "alice",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	res, err := d.IssueUnscopedToken(ctx, "alice", assertion)
	require.Nil(t, err)
	assert.Equal(t, "alice", res.User)
	assert.Len(t, res.Token, 64)
	assert.False(t, res.Scoped)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute,
		"the assertion's exp claim caps the token lifetime")

	storedID, err := st.UserID("alice")
	require.Nil(t, err)
	assert.Equal(t, res.UserID, storedID)

	user, tenant, seed, err := st.Lookup(res.Token)
	require.Nil(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "", tenant)
	assert.Equal(t, token.PublisherK8sOIDC, seed.Publisher)
	assert.Nil(t, d.VerifyToken(ctx, user, tenant, res.Token, seed))
}

func TestK8sOidcRejectsForeignUser(t *testing.T) {
	defer gock.Off()
	d, _ := newOidcDriver()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)

	assertion := signAssertion(t, key, jwt.MapClaims{
		"iss": testIssuer,
		"aud": "k2hr3",
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	// rejected on the unverified fast path, before any network traffic
	_, err = d.IssueUnscopedToken(context.Background(), "mallory", assertion)
	assert.Equal(t, token.KindVerificationFailed, token.KindOf(err))
	assert.True(t, gock.IsDone(), "no issuer request may have been made")
}

func TestK8sOidcRejectsBadSignature(t *testing.T) {
	defer gock.Off()
	d, _ := newOidcDriver()

	servedKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)
	mockIssuer(t, servedKey)

	assertion := signAssertion(t, signingKey, jwt.MapClaims{
		"iss": testIssuer,
		"aud": "k2hr3",
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = d.IssueUnscopedToken(context.Background(), "alice", assertion)
	assert.Equal(t, token.KindVerificationFailed, token.KindOf(err))
}

func TestK8sOidcScopedToken(t *testing.T) {
	d, st := newOidcDriver()
	ctx := context.Background()
	now := time.Now()

	require.Nil(t, st.SetUserID("alice", "subject-0001"))
	unscoped, err := d.mint("alice", "", "subject-0001", now, now.Add(time.Hour))
	require.Nil(t, err)

	scoped, err := d.IssueScopedToken(ctx, unscoped.Token, "team-a", "")
	require.Nil(t, err)
	assert.True(t, scoped.Scoped)
	assert.Equal(t, "team-a", scoped.Tenant)

	_, _, seed, err := st.Lookup(scoped.Token)
	require.Nil(t, err)
	assert.Nil(t, d.VerifyToken(ctx, "alice", "team-a", scoped.Token, seed))

	_, err = d.IssueScopedToken(ctx, unscoped.Token, "kube-system", "")
	assert.Equal(t, token.KindNotFound, token.KindOf(err), "system namespaces are not tenants")
}

func TestK8sOidcExpiredSeedIsRejected(t *testing.T) {
	d, st := newOidcDriver()
	ctx := context.Background()
	now := time.Now()

	require.Nil(t, st.SetUserID("alice", "subject-0001"))
	res, err := d.mint("alice", "", "subject-0001", now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.Nil(t, err)

	_, _, seed, err := st.Lookup(res.Token)
	require.Nil(t, err)
	assert.Equal(t, token.KindExpired, token.KindOf(d.VerifyToken(ctx, "alice", "", res.Token, seed)))
}

func TestK8sOidcVerifyBindsStoredSubjectID(t *testing.T) {
	d, st := newOidcDriver()
	ctx := context.Background()
	now := time.Now()

	require.Nil(t, st.SetUserID("alice", "subject-0001"))
	res, err := d.mint("alice", "", "subject-0001", now, now.Add(time.Hour))
	require.Nil(t, err)
	_, _, seed, err := st.Lookup(res.Token)
	require.Nil(t, err)
	require.Nil(t, d.VerifyToken(ctx, "alice", "", res.Token, seed))

	// the subject id is refetched on every verification, so a changed id
	// invalidates all outstanding tokens of the user
	require.Nil(t, st.SetUserID("alice", "subject-0002"))
	err = d.VerifyToken(ctx, "alice", "", res.Token, seed)
	assert.Equal(t, token.KindVerificationFailed, token.KindOf(err))
}

func TestK8sOidcTenantListExcludesSystemNamespaces(t *testing.T) {
	d, _ := newOidcDriver()
	d.cluster = fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default", UID: types.UID("uid-default")}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "team-a", UID: types.UID("uid-team-a")}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "kube-system", UID: types.UID("uid-kube-system")}},
	)

	tenants, err := d.ListTenants(context.Background(), "ignored", "ignored")
	require.Nil(t, err)
	require.Len(t, tenants, 2)
	names := []string{tenants[0].Name, tenants[1].Name}
	assert.Contains(t, names, "default")
	assert.Contains(t, names, "team-a")
	assert.NotContains(t, names, "kube-system")
}

func TestNormalizeSubjectID(t *testing.T) {
	// bare 32-hex folds into dashed UUID form
	assert.Equal(t, "01234567-89ab-cdef-0123-456789abcdef", normalizeSubjectID("0123456789abcdef0123456789abcdef"))
	// dashed ids pass through canonicalized
	assert.Equal(t, "6ba7b810-9dad-41d4-80b4-00c04fd430c8", normalizeSubjectID("6BA7B810-9DAD-41D4-80B4-00C04FD430C8"))
	// decimal ids are zero-padded into the 128-bit space
	assert.Equal(t, "00000000-0000-0000-0000-0000000004d2", normalizeSubjectID("1234"))
	// anything else maps deterministically
	assert.Equal(t, normalizeSubjectID("system:serviceaccount:x"), normalizeSubjectID("system:serviceaccount:x"))
}
