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

// Package keys derives the YRN key paths under which every entity of the
// authorization store is addressed. The general form is
//
//	yrn:yahoo:<service>:<region>:<tenant>:<type>:<path>
//
// All inputs are lower-cased before concatenation so that any two components
// deriving a key for the same logical entity produce byte-identical strings.
package keys

import (
	"regexp"
	"strings"
)

// Partition is the fixed first path element of every YRN key.
const Partition = "yahoo"

const (
	yrnPrefix = "yrn:" + Partition
	// prefix for keys that are not bound to a service, region or tenant
	noServicePrefix = yrnPrefix + "::::"
)

// KeyMap contains the key paths derived from a (user, tenant, service)
// triple. Keys whose inputs were empty are left empty as well.
type KeyMap struct {
	// global top keys, always present
	UserTopKey      string
	TokenTopKey     string
	TokenUserTopKey string
	KeystoneTopKey  string
	ServiceTopKey   string

	// per-user keys, require user
	UserKey          string
	UserIDKey        string
	UserTenantTopKey string

	// per-user-and-tenant key, requires user (tenant may be empty for
	// unscoped entries)
	UserTenantKey string

	// per-tenant keys, require tenant (service slot may stay empty)
	RoleTopKey     string
	PolicyTopKey   string
	ResourceTopKey string

	// per-service key, requires service
	ServiceKey string
}

// Build derives all key paths for the given triple. It is pure and total:
// invalid (empty) inputs simply omit the keys that require them.
func Build(user, tenant, service string) KeyMap {
	user = strings.ToLower(user)
	tenant = strings.ToLower(tenant)
	service = strings.ToLower(service)

	m := KeyMap{
		UserTopKey:      noServicePrefix + "user",
		TokenTopKey:     noServicePrefix + "token",
		TokenUserTopKey: noServicePrefix + "token:user",
		KeystoneTopKey:  noServicePrefix + "keystone",
		ServiceTopKey:   noServicePrefix + "service",
	}

	if user != "" {
		m.UserKey = m.UserTopKey + ":" + user
		m.UserIDKey = m.UserKey + ":id"
		m.UserTenantTopKey = m.UserKey + ":tenant"
		m.UserTenantKey = m.UserTenantTopKey + "/" + tenant
	}

	if tenant != "" {
		scoped := yrnPrefix + ":" + service + "::" + tenant
		m.RoleTopKey = scoped + ":role"
		m.PolicyTopKey = scoped + ":policy"
		m.ResourceTopKey = scoped + ":resource"
	}

	if service != "" {
		m.ServiceKey = m.ServiceTopKey + ":" + service
	}

	return m
}

// TokenIndexKey returns the key of the reverse index entry mapping a token
// string to the key of its seed.
func TokenIndexKey(token string) string {
	return noServicePrefix + "token:user/" + strings.ToLower(token)
}

// SeedKey returns the key under which the seed of a token is stored. The
// tenant is empty for unscoped tokens.
func SeedKey(user, tenant, token string) string {
	return noServicePrefix + "user:" + strings.ToLower(user) +
		":tenant/" + strings.ToLower(tenant) + "/token/" + strings.ToLower(token)
}

// EndpointKey returns the key of a persisted keystone endpoint entry.
func EndpointKey(region string) string {
	return noServicePrefix + "keystone:" + strings.ToLower(region)
}

// Patterns for parsing built keys back into their components. These are the
// inverse of the builder functions above: any tuple fed into the builder can
// be extracted again from the built key.
var (
	// SeedKeyPattern captures (user, tenant, token) from a SeedKey.
	SeedKeyPattern = regexp.MustCompile(`^yrn:` + Partition + `::::user:([^:/]+):tenant/([^:/]*)/token/([0-9a-f]+)$`)
	// TokenIndexKeyPattern captures the token from a TokenIndexKey.
	TokenIndexKeyPattern = regexp.MustCompile(`^yrn:` + Partition + `::::token:user/([0-9a-f]+)$`)
	// ScopedTopKeyPattern captures (service, tenant, type) from a role,
	// policy or resource top key.
	ScopedTopKeyPattern = regexp.MustCompile(`^yrn:` + Partition + `:([^:]*)::([^:]+):(role|policy|resource)$`)
	// EndpointKeyPattern captures the region from an EndpointKey.
	EndpointKeyPattern = regexp.MustCompile(`^yrn:` + Partition + `::::keystone:([^:]+)$`)
)

// ParseSeedKey extracts (user, tenant, token) from a seed key.
func ParseSeedKey(key string) (user, tenant, token string, ok bool) {
	groups := SeedKeyPattern.FindStringSubmatch(key)
	if groups == nil {
		return "", "", "", false
	}
	return groups[1], groups[2], groups[3], true
}

// ParseTokenIndexKey extracts the token from a token index key.
func ParseTokenIndexKey(key string) (token string, ok bool) {
	groups := TokenIndexKeyPattern.FindStringSubmatch(key)
	if groups == nil {
		return "", false
	}
	return groups[1], true
}

// ParseScopedTopKey extracts (service, tenant) from a role/policy/resource
// top key.
func ParseScopedTopKey(key string) (service, tenant string, ok bool) {
	groups := ScopedTopKeyPattern.FindStringSubmatch(key)
	if groups == nil {
		return "", "", false
	}
	return groups[1], groups[2], true
}

// ParseEndpointKey extracts the region from a persisted endpoint key.
func ParseEndpointKey(key string) (region string, ok bool) {
	groups := EndpointKeyPattern.FindStringSubmatch(key)
	if groups == nil {
		return "", false
	}
	return groups[1], true
}
