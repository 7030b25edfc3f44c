// SPDX-FileCopyrightText: 2018 Yahoo Japan Corporation
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yahoojapan/k2hr3-api/pkg/keys"
	"github.com/yahoojapan/k2hr3-api/pkg/storage"
)

func TestPersistAndLookup(t *testing.T) {
	kv := storage.Mock()
	st := NewStore(kv)

	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "tenant0", time.Hour, testNow)
	require.Nil(t, err)
	tok, err := LegacyToken(seed)
	require.Nil(t, err)
	require.Nil(t, st.Persist(tok, "alice", "tenant0", seed))

	user, tenant, stored, err := st.Lookup(tok)
	require.Nil(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "tenant0", tenant)
	assert.Equal(t, seed.Base, stored.Base)
	assert.Equal(t, seed.Verify, stored.Verify)
}

func TestLookupUnknownToken(t *testing.T) {
	st := NewStore(storage.Mock())
	_, _, _, err := st.Lookup("00112233445566778899aabbccddeeff")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestLookupHalfWrittenToken(t *testing.T) {
	kv := storage.Mock()
	st := NewStore(kv)

	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	tok, err := LegacyToken(seed)
	require.Nil(t, err)
	require.Nil(t, st.Persist(tok, "alice", "", seed))

	// simulate a crash between the two writes of Persist
	require.Nil(t, kv.Remove(keys.SeedKey("alice", "", tok)))

	_, _, _, err = st.Lookup(tok)
	assert.Equal(t, KindNotFound, KindOf(err), "a half-written token must simply never verify")
}

func TestLookupMalformedOwnerPath(t *testing.T) {
	kv := storage.Mock()
	st := NewStore(kv)

	require.Nil(t, kv.Set(keys.TokenIndexKey("00112233445566778899aabbccddeeff"), "not-a-seed-key"))

	_, _, _, err := st.Lookup("00112233445566778899aabbccddeeff")
	assert.Equal(t, KindStorageInconsistent, KindOf(err))
}

func TestMintUniqueRetriesOnCollision(t *testing.T) {
	kv := storage.Mock()
	st := NewStore(kv)

	// occupy the first candidate's index slot
	require.Nil(t, kv.Set(keys.TokenIndexKey("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), "x"))

	candidates := []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}
	calls := 0
	tok, err := st.MintUnique(func() (string, error) {
		candidate := candidates[calls]
		calls++
		return candidate, nil
	})
	require.Nil(t, err)
	assert.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", tok)
	assert.Equal(t, 2, calls)
}

func TestMintUniqueGivesUpEventually(t *testing.T) {
	kv := storage.Mock()
	st := NewStore(kv)
	require.Nil(t, kv.Set(keys.TokenIndexKey("cccccccccccccccccccccccccccccccc"), "x"))

	_, err := st.MintUnique(func() (string, error) {
		return "cccccccccccccccccccccccccccccccc", nil
	})
	assert.NotNil(t, err, "a generator stuck on one value must not loop forever")
}

func TestManyTokensAreDistinct(t *testing.T) {
	kv := storage.Mock()
	st := NewStore(kv)

	seen := map[string]bool{}
	for i := 0; i < 10000; i++ {
		seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
		require.Nil(t, err)
		tok, err := st.MintUnique(func() (string, error) {
			if rerr := RerollVerify(seed); rerr != nil {
				return "", rerr
			}
			return LegacyToken(seed)
		})
		require.Nil(t, err)
		require.Nil(t, st.Persist(tok, "alice", "", seed))
		assert.False(t, seen[tok], "token %s issued twice (iteration %d)", tok, i)
		seen[tok] = true
	}
	assert.Len(t, seen, 10000)
}

func TestRemoveToken(t *testing.T) {
	kv := storage.Mock()
	st := NewStore(kv)

	seed, err := NewLegacySeed("yrn:yahoo::::user:alice", "alice", "", time.Hour, testNow)
	require.Nil(t, err)
	tok, err := LegacyToken(seed)
	require.Nil(t, err)
	require.Nil(t, st.Persist(tok, "alice", "", seed))

	require.Nil(t, st.Remove(tok))
	_, _, _, err = st.Lookup(tok)
	assert.Equal(t, KindNotFound, KindOf(err))

	err = st.Remove(tok)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUserIDStoreAndFetch(t *testing.T) {
	st := NewStore(storage.Mock())

	_, err := st.UserID("alice")
	assert.Equal(t, KindNotFound, KindOf(err))

	require.Nil(t, st.SetUserID("alice", "u-0001"))
	id, err := st.UserID("alice")
	require.Nil(t, err)
	assert.Equal(t, "u-0001", id)
}

func TestErrorKindsAreDistinguishable(t *testing.T) {
	for _, kind := range []Kind{KindInvalidInput, KindNotFound, KindExpired, KindVerificationFailed, KindUpstreamUnavailable, KindStorageInconsistent} {
		err := NewError(kind, "kind %d", kind)
		assert.Equal(t, kind, KindOf(err))
		assert.Equal(t, fmt.Sprintf("kind %d", kind), err.Error())
	}
	assert.Equal(t, KindNone, KindOf(fmt.Errorf("plain")))
}
