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
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// Two derivation schemes coexist. The legacy XOR scheme is reversible and
// not cryptographically strong; it is kept for verification of already
// issued tokens and for the self-contained dummy provider. New issuance
// defaults to the keyed-hash scheme. The presence of the verify nonce in a
// seed selects the legacy scheme during verification.

const (
	legacyPartBytes = 8
	hashBaseBytes   = 32
)

func randomHex(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", NewError(KindUpstreamUnavailable, "cannot read random bytes: %s", err.Error())
	}
	return hex.EncodeToString(raw), nil
}

// NewLegacySeed creates a seed for the legacy XOR scheme. The tenant is
// empty for unscoped seeds.
func NewLegacySeed(creator, user, tenant string, lifetime time.Duration, now time.Time) (*Seed, error) {
	base, err := randomHex(legacyPartBytes)
	if err != nil {
		return nil, err
	}
	extra, err := randomHex(legacyPartBytes)
	if err != nil {
		return nil, err
	}
	verify, err := randomHex(legacyPartBytes)
	if err != nil {
		return nil, err
	}
	return &Seed{
		UserExtraID: extra,
		Verify:      verify,
		Base:        base,
		Date:        now.UTC().Format(time.RFC3339),
		Expire:      now.UTC().Add(lifetime).Format(time.RFC3339),
		Creator:     creator,
		User:        user,
		Tenant:      tenant,
	}, nil
}

// LegacyToken derives the public token string of the legacy scheme:
// hex(base xor verify) followed by hex(userExtraID xor verify).
func LegacyToken(s *Seed) (string, error) {
	base, err := hex.DecodeString(s.Base)
	if err != nil || len(base) != legacyPartBytes {
		return "", NewError(KindStorageInconsistent, "seed of user %s has a malformed base", s.User)
	}
	extra, err := hex.DecodeString(s.UserExtraID)
	if err != nil || len(extra) != legacyPartBytes {
		return "", NewError(KindStorageInconsistent, "seed of user %s has a malformed extra id", s.User)
	}
	verify, err := hex.DecodeString(s.Verify)
	if err != nil || len(verify) != legacyPartBytes {
		return "", NewError(KindStorageInconsistent, "seed of user %s has a malformed verify nonce", s.User)
	}

	buf := make([]byte, 2*legacyPartBytes)
	for i := 0; i < legacyPartBytes; i++ {
		buf[i] = base[i] ^ verify[i]
		buf[legacyPartBytes+i] = extra[i] ^ verify[i]
	}
	return hex.EncodeToString(buf), nil
}

// RerollVerify replaces the seed's verify nonce after a token collision.
// The caller re-derives the token afterwards.
func RerollVerify(s *Seed) error {
	verify, err := randomHex(legacyPartBytes)
	if err != nil {
		return err
	}
	s.Verify = verify
	return nil
}

// NewHashSeed creates a seed for the keyed-hash scheme. userExtraID is the
// per-issuance entropy (a UUID4); the secret base is generated here and
// stored in the seed.
func NewHashSeed(publisher, creator, user, tenant, userExtraID string, lifetime time.Duration, now time.Time) (*Seed, error) {
	base, err := randomHex(hashBaseBytes)
	if err != nil {
		return nil, err
	}
	return &Seed{
		Publisher:   publisher,
		UserExtraID: userExtraID,
		Base:        base,
		Date:        now.UTC().Format(time.RFC3339),
		Expire:      now.UTC().Add(lifetime).Format(time.RFC3339),
		Creator:     creator,
		User:        user,
		Tenant:      tenant,
	}, nil
}

// HashToken derives the public token string of the keyed-hash scheme from
// the stored seed and the subject id of the owning user.
func HashToken(s *Seed, subjectID string) (string, error) {
	key, err := hex.DecodeString(s.Base)
	if err != nil || len(key) == 0 {
		return "", NewError(KindStorageInconsistent, "seed of user %s has a malformed base", s.User)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(s.UserExtraID))
	mac.Write([]byte{':'})
	mac.Write([]byte(subjectID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// RerollBase replaces the seed's hash base after a token collision.
func RerollBase(s *Seed) error {
	base, err := randomHex(hashBaseBytes)
	if err != nil {
		return err
	}
	s.Base = base
	return nil
}

// Verify checks a presented token string against its seed. subjectID is only
// consulted by the keyed-hash scheme and may be empty for legacy seeds.
// The expiry check comes first so that an expired seed is always reported as
// such, even when the recomputed token would match.
func Verify(s *Seed, presented, user, tenant, subjectID string, now time.Time) error {
	if err := s.CheckExpiry(now); err != nil {
		return err
	}
	if user != "" && s.User != user {
		return NewError(KindVerificationFailed, "token was not issued to user %s", user)
	}
	if s.Tenant != tenant {
		return NewError(KindVerificationFailed, "token of user %s is not scoped to tenant %q", s.User, tenant)
	}

	var computed string
	var err error
	if s.Verify != "" {
		computed, err = LegacyToken(s)
	} else {
		computed, err = HashToken(s, subjectID)
	}
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(presented)) != 1 {
		return NewError(KindVerificationFailed, "presented token of user %s does not match its seed", s.User)
	}
	return nil
}
