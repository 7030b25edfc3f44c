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
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/yahoojapan/k2hr3-api/pkg/keys"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// systemNamespaces are never offered as tenants.
var systemNamespaces = map[string]bool{
	"kube-node-lease":      true,
	"kube-public":          true,
	"kube-system":          true,
	"kubernetes-dashboard": true,
}

// k8sOidcDriver accepts signed OIDC assertions (kubernetes service account
// tokens, typically) and mints locally-owned tokens with the keyed-hash
// scheme. Tenants are the namespaces of the cluster, minus the system ones.
type k8sOidcDriver struct {
	store *token.Store
	clock func() time.Time

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
	cluster  kubernetes.Interface
}

// K8sOidc creates the kubernetes OIDC identity provider. The OIDC verifier
// and the cluster client are built lazily from configuration on first use.
func K8sOidc(st *token.Store) Provider {
	return &k8sOidcDriver{store: st, clock: time.Now}
}

func (d *k8sOidcDriver) IssueUnscopedToken(ctx context.Context, user, assertion string) (*TokenResult, error) {
	if assertion == "" {
		return nil, token.NewError(token.KindInvalidInput, "no assertion given")
	}

	// unverified fast-path decode first, so an assertion for the wrong user
	// is rejected before the signature check
	fastUser, err := unverifiedUsername(assertion)
	if err != nil {
		return nil, err
	}
	if user != "" && fastUser != user {
		return nil, token.NewError(token.KindVerificationFailed, "assertion was not issued to user %s", user)
	}

	verifier, err := d.idTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}
	idToken, err := verifier.Verify(ctx, assertion)
	if err != nil {
		return nil, token.NewError(token.KindVerificationFailed, "assertion signature check failed: %s", err.Error())
	}
	verifiedUser, err := verifiedUsername(idToken)
	if err != nil {
		return nil, err
	}
	if verifiedUser != fastUser {
		return nil, token.NewError(token.KindVerificationFailed, "assertion username claims disagree between decode and verification")
	}

	now := d.clock()
	expiresAt := now.UTC().Add(tokenLifetime())
	if !idToken.Expiry.IsZero() && idToken.Expiry.Before(expiresAt) {
		// the assertion's own expiry caps the token lifetime
		expiresAt = idToken.Expiry.UTC()
	}
	subjectID := normalizeSubjectID(idToken.Subject)
	if err := d.store.SetUserID(verifiedUser, subjectID); err != nil {
		return nil, err
	}
	return d.mint(verifiedUser, "", subjectID, now, expiresAt)
}

func (d *k8sOidcDriver) IssueScopedToken(ctx context.Context, unscopedToken, tenantName, tenantID string) (*TokenResult, error) {
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
	subjectID, err := d.store.UserID(user)
	if err != nil {
		return nil, err
	}
	now := d.clock()
	if err := token.Verify(seed, unscopedToken, user, tenant, subjectID, now); err != nil {
		return nil, err
	}
	if systemNamespaces[tenantName] {
		return nil, token.NewError(token.KindNotFound, "namespace %s is not available as a tenant", tenantName)
	}
	expiresAt, err := seed.ExpiresAt()
	if err != nil {
		return nil, token.NewError(token.KindStorageInconsistent, "seed of user %s has a malformed expiry timestamp", user)
	}
	return d.mint(user, tenantName, subjectID, now, expiresAt)
}

func (d *k8sOidcDriver) VerifyToken(ctx context.Context, user, tenant, tok string, seed *token.Seed) error {
	owner := user
	if owner == "" {
		owner = seed.User
	}
	// the subject id is fetched fresh on every verification and folded into
	// the recomputed hash
	subjectID, err := d.store.UserID(owner)
	if err != nil {
		if token.KindOf(err) == token.KindNotFound {
			return token.NewError(token.KindVerificationFailed, "no subject id stored for user %s", owner)
		}
		return err
	}
	return token.Verify(seed, tok, user, tenant, subjectID, d.clock())
}

func (d *k8sOidcDriver) VerifyPublisher(seed *token.Seed) bool {
	return seed.Publisher == token.PublisherK8sOIDC
}

func (d *k8sOidcDriver) ListTenants(ctx context.Context, unscopedToken, userID string) ([]Tenant, error) {
	cluster, err := d.clusterClient()
	if err != nil {
		return nil, err
	}
	namespaces, err := cluster.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "cannot list cluster namespaces: %s", err.Error())
	}

	tenants := make([]Tenant, 0, len(namespaces.Items))
	for _, ns := range namespaces.Items {
		if systemNamespaces[ns.Name] {
			continue
		}
		tenants = append(tenants, Tenant{
			Name:        ns.Name,
			ID:          string(ns.UID),
			Description: "kubernetes namespace " + ns.Name,
			Display:     ns.Name,
		})
	}
	return tenants, nil
}

// mint issues a keyed-hash token for the user. The hash base is re-rolled
// on a store collision before the token string is derived again.
func (d *k8sOidcDriver) mint(user, tenant, subjectID string, now, expiresAt time.Time) (*TokenResult, error) {
	// seeds are stored under lower-cased key paths, so the seed itself
	// carries the folded names
	user = strings.ToLower(user)
	tenant = strings.ToLower(tenant)
	seed, err := token.NewHashSeed(token.PublisherK8sOIDC, keys.Build(user, "", "").UserKey, user, tenant,
		uuid.NewString(), expiresAt.Sub(now), now)
	if err != nil {
		return nil, err
	}

	first := true
	tok, err := d.store.MintUnique(func() (string, error) {
		if !first {
			if rerr := token.RerollBase(seed); rerr != nil {
				return "", rerr
			}
		}
		first = false
		return token.HashToken(seed, subjectID)
	})
	if err != nil {
		return nil, err
	}
	if err := d.store.Persist(tok, user, tenant, seed); err != nil {
		return nil, err
	}

	util.LogDebug("issued oidc-backed token for user %s (tenant %q)", user, tenant)
	return &TokenResult{
		User:      user,
		UserID:    subjectID,
		Token:     tok,
		Tenant:    tenant,
		Scoped:    tenant != "",
		ExpiresAt: expiresAt,
	}, nil
}

// idTokenVerifier builds the OIDC verifier from the issuer's discovery
// document on first use.
func (d *k8sOidcDriver) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.verifier != nil {
		return d.verifier, nil
	}
	issuer := viper.GetString("oidc.issuer_url")
	if issuer == "" {
		return nil, token.NewError(token.KindInvalidInput, "oidc.issuer_url is not configured")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "cannot fetch OIDC discovery document of %s: %s", issuer, err.Error())
	}
	cfg := &oidc.Config{ClientID: viper.GetString("oidc.client_id")}
	if cfg.ClientID == "" {
		cfg.SkipClientIDCheck = true
	}
	d.verifier = provider.Verifier(cfg)
	return d.verifier, nil
}

// clusterClient builds the kubernetes client on first use, preferring the
// in-cluster service account configuration.
func (d *k8sOidcDriver) clusterClient() (kubernetes.Interface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cluster != nil {
		return d.cluster, nil
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		apiURL := viper.GetString("k8s.api_url")
		if apiURL == "" {
			return nil, token.NewError(token.KindUpstreamUnavailable, "no cluster configuration: %s", err.Error())
		}
		cfg = &rest.Config{
			Host:            apiURL,
			BearerTokenFile: viper.GetString("k8s.sa_token_file"),
			TLSClientConfig: rest.TLSClientConfig{CAFile: viper.GetString("k8s.ca_file")},
		}
	}
	cluster, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, token.NewError(token.KindUpstreamUnavailable, "cannot build cluster client: %s", err.Error())
	}
	d.cluster = cluster
	return d.cluster, nil
}

// unverifiedUsername decodes the username claim without checking the
// signature.
func unverifiedUsername(assertion string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
		return "", token.NewError(token.KindInvalidInput, "assertion is not a well-formed JWT: %s", err.Error())
	}
	name, ok := claims[usernameClaim()].(string)
	if !ok || name == "" {
		return "", token.NewError(token.KindInvalidInput, "assertion carries no %s claim", usernameClaim())
	}
	return name, nil
}

// verifiedUsername extracts the username claim from a signature-checked
// token.
func verifiedUsername(idToken *oidc.IDToken) (string, error) {
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return "", token.NewError(token.KindVerificationFailed, "cannot decode verified claims: %s", err.Error())
	}
	name, ok := claims[usernameClaim()].(string)
	if !ok || name == "" {
		return "", token.NewError(token.KindVerificationFailed, "verified assertion carries no %s claim", usernameClaim())
	}
	return name, nil
}

func usernameClaim() string {
	if claim := viper.GetString("oidc.username_claim"); claim != "" {
		return claim
	}
	return "sub"
}
