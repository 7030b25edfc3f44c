// SPDX-FileCopyrightText: 2018 Yahoo Japan Corporation
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func TestLegacyRoundTrip(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)

	tok, err := LegacyToken(seed)
	require.Nil(t, err)
	assert.Len(t, tok, 32, "legacy tokens cover a 128-bit space")

	assert.Nil(t, Verify(seed, tok, "alice", "", "", testNow))
}

func TestLegacyTokenIsDeterministic(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "tenant0", time.Hour, testNow)
	require.Nil(t, err)

	first, err := LegacyToken(seed)
	require.Nil(t, err)
	second, err := LegacyToken(seed)
	require.Nil(t, err)
	assert.Equal(t, first, second)
}

func TestRerollVerifyChangesToken(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	before, err := LegacyToken(seed)
	require.Nil(t, err)

	require.Nil(t, RerollVerify(seed))
	after, err := LegacyToken(seed)
	require.Nil(t, err)
	assert.NotEqual(t, before, after)
}

func TestExpiryBeatsCorrectToken(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	seed.Expire = testNow.Add(-time.Second).Format(time.RFC3339)

	tok, err := LegacyToken(seed)
	require.Nil(t, err)

	err = Verify(seed, tok, "alice", "", "", testNow)
	assert.Equal(t, KindExpired, KindOf(err), "a byte-correct token must still be rejected as expired")
}

func TestTenantScopeMismatch(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "t1", time.Hour, testNow)
	require.Nil(t, err)
	tok, err := LegacyToken(seed)
	require.Nil(t, err)

	err = Verify(seed, tok, "alice", "t2", "", testNow)
	assert.Equal(t, KindVerificationFailed, KindOf(err), "scope mismatch must never surface as a different error kind")

	assert.Nil(t, Verify(seed, tok, "alice", "t1", "", testNow))
}

func TestUnscopedSeedAgainstEmptyTenant(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	tok, err := LegacyToken(seed)
	require.Nil(t, err)

	assert.Nil(t, Verify(seed, tok, "alice", "", "", testNow))
	err = Verify(seed, tok, "alice", "t1", "", testNow)
	assert.Equal(t, KindVerificationFailed, KindOf(err))
}

func TestUserMismatch(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	tok, err := LegacyToken(seed)
	require.Nil(t, err)

	err = Verify(seed, tok, "mallory", "", "", testNow)
	assert.Equal(t, KindVerificationFailed, KindOf(err))
}

func TestWrongTokenFailsVerification(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)

	err = Verify(seed, "00000000000000000000000000000000", "alice", "", "", testNow)
	assert.Equal(t, KindVerificationFailed, KindOf(err))
}

func TestHashRoundTrip(t *testing.T) {
	seed, err := NewHashSeed(PublisherK8sOIDC, "yrn:yahoo::::user:alice", "alice", "", "6ba7b810-9dad-41d4-80b4-00c04fd430c8", time.Hour, testNow)
	require.Nil(t, err)

	tok, err := HashToken(seed, "user-id-0001")
	require.Nil(t, err)
	assert.Len(t, tok, 64)

	assert.Nil(t, Verify(seed, tok, "alice", "", "user-id-0001", testNow))
}

func TestHashSchemeBindsSubjectID(t *testing.T) {
	seed, err := NewHashSeed(PublisherK8sOIDC, "yrn:yahoo::::user:alice", "alice", "", "6ba7b810-9dad-41d4-80b4-00c04fd430c8", time.Hour, testNow)
	require.Nil(t, err)
	tok, err := HashToken(seed, "user-id-0001")
	require.Nil(t, err)

	// verification recomputes from a freshly fetched user id, so a changed
	// id must invalidate the token
	err = Verify(seed, tok, "alice", "", "user-id-0002", testNow)
	assert.Equal(t, KindVerificationFailed, KindOf(err))
}

func TestSchemeSelectionByVerifyNonce(t *testing.T) {
	legacy, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	assert.NotEmpty(t, legacy.Verify)

	hashed, err := NewHashSeed(PublisherK8sOIDC, "yrn:yahoo::::user:alice", "alice", "", "extra", time.Hour, testNow)
	require.Nil(t, err)
	assert.Empty(t, hashed.Verify)
}

func TestMalformedSeedIsStorageInconsistent(t *testing.T) {
	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	seed.Base = "not-hex"

	_, err = LegacyToken(seed)
	assert.Equal(t, KindStorageInconsistent, KindOf(err))

	seed.Expire = "garbage"
	err = Verify(seed, "anything", "alice", "", "", testNow)
	assert.Equal(t, KindStorageInconsistent, KindOf(err))
}
