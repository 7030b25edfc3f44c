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

package token

import (
	"encoding/json"

	"github.com/yahoojapan/k2hr3-api/pkg/keys"
	"github.com/yahoojapan/k2hr3-api/pkg/storage"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// maxMintAttempts bounds the collision loop. In a 128-bit token space the
// loop practically never runs more than once; the bound only guards against
// a broken generator.
const maxMintAttempts = 100

// Store orchestrates persistence of token-to-seed mappings in the KV store.
// Each token occupies two entries: the reverse index under the token-user
// top key pointing at the seed key, and the seed JSON itself. The two
// writes are not atomic; a crash between them leaves a token that simply
// never verifies and is treated as NotFound on the next read.
type Store struct {
	kv storage.Driver
}

// NewStore creates a token store on the given storage driver.
func NewStore(kv storage.Driver) *Store {
	return &Store{kv: kv}
}

// MintUnique calls the generator until it produces a token string that does
// not yet exist in the store. The loop is bounded, not recursive.
func (st *Store) MintUnique(generate func() (string, error)) (string, error) {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		candidate, err := generate()
		if err != nil {
			return "", err
		}
		_, exists, err := st.kv.Get(keys.TokenIndexKey(candidate))
		if err != nil {
			return "", NewError(KindUpstreamUnavailable, "cannot check token uniqueness: %s", err.Error())
		}
		if !exists {
			return candidate, nil
		}
		util.LogWarning("token collision on attempt %d, re-rolling", attempt+1)
	}
	return "", NewError(KindUpstreamUnavailable, "token generator failed to produce a unique token in %d attempts", maxMintAttempts)
}

// Persist writes the reverse index and the seed blob for a freshly minted
// token.
func (st *Store) Persist(tok, user, tenant string, seed *Seed) error {
	raw, err := json.Marshal(seed)
	if err != nil {
		return NewError(KindInvalidInput, "cannot serialize seed of user %s: %s", user, err.Error())
	}
	seedKey := keys.SeedKey(user, tenant, tok)
	if err := st.kv.Set(keys.TokenIndexKey(tok), seedKey); err != nil {
		return NewError(KindUpstreamUnavailable, "cannot write token index: %s", err.Error())
	}
	if err := st.kv.Set(seedKey, string(raw)); err != nil {
		return NewError(KindUpstreamUnavailable, "cannot write token seed: %s", err.Error())
	}
	return nil
}

// Lookup resolves a presented token string to its owner and seed. A token
// whose index entry points at a malformed key is reported as storage
// inconsistency; a half-written token (index without seed blob) is NotFound.
func (st *Store) Lookup(tok string) (user, tenant string, seed *Seed, err error) {
	seedKey, found, err := st.kv.Get(keys.TokenIndexKey(tok))
	if err != nil {
		return "", "", nil, NewError(KindUpstreamUnavailable, "cannot read token index: %s", err.Error())
	}
	if !found {
		return "", "", nil, NewError(KindNotFound, "no such token")
	}
	user, tenant, _, ok := keys.ParseSeedKey(seedKey)
	if !ok {
		return "", "", nil, NewError(KindStorageInconsistent, "token index points to malformed owner path %s", seedKey)
	}
	raw, found, err := st.kv.Get(seedKey)
	if err != nil {
		return "", "", nil, NewError(KindUpstreamUnavailable, "cannot read token seed: %s", err.Error())
	}
	if !found {
		// half-written token, self-healing by rejection
		return "", "", nil, NewError(KindNotFound, "token has no seed")
	}
	seed = &Seed{}
	if err := json.Unmarshal([]byte(raw), seed); err != nil {
		return "", "", nil, NewError(KindStorageInconsistent, "seed of user %s is not valid JSON", user)
	}
	return user, tenant, seed, nil
}

// Remove deletes a token's index and seed entries (explicit logout/removal).
func (st *Store) Remove(tok string) error {
	seedKey, found, err := st.kv.Get(keys.TokenIndexKey(tok))
	if err != nil {
		return NewError(KindUpstreamUnavailable, "cannot read token index: %s", err.Error())
	}
	if !found {
		return NewError(KindNotFound, "no such token")
	}
	if err := st.kv.Remove(seedKey); err != nil {
		return NewError(KindUpstreamUnavailable, "cannot remove token seed: %s", err.Error())
	}
	if err := st.kv.Remove(keys.TokenIndexKey(tok)); err != nil {
		return NewError(KindUpstreamUnavailable, "cannot remove token index: %s", err.Error())
	}
	return nil
}

// UserID returns the stored subject id of a user.
func (st *Store) UserID(user string) (string, error) {
	m := keys.Build(user, "", "")
	if m.UserIDKey == "" {
		return "", NewError(KindInvalidInput, "no user name given")
	}
	id, found, err := st.kv.Get(m.UserIDKey)
	if err != nil {
		return "", NewError(KindUpstreamUnavailable, "cannot read user id: %s", err.Error())
	}
	if !found {
		return "", NewError(KindNotFound, "no id stored for user %s", user)
	}
	return id, nil
}

// SetUserID stores the subject id of a user.
func (st *Store) SetUserID(user, id string) error {
	m := keys.Build(user, "", "")
	if m.UserIDKey == "" {
		return NewError(KindInvalidInput, "no user name given")
	}
	if err := st.kv.Set(m.UserIDKey, id); err != nil {
		return NewError(KindUpstreamUnavailable, "cannot write user id: %s", err.Error())
	}
	return nil
}
