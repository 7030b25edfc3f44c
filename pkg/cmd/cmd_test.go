// SPDX-FileCopyrightText: 2018 Yahoo Japan Corporation
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	viper.Reset()
	setDefaultConfig()

	assert.Equal(t, "dummy", viper.GetString("k2hr3.identity_driver"))
	assert.Equal(t, "mock", viper.GetString("k2hr3.storage_driver"))
	assert.Equal(t, "0.0.0.0:18080", viper.GetString("k2hr3.bind_address"))
}

func TestRequestTokenWithCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/user/tokens", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-Auth-Token"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":true,"token":"00112233445566778899aabbccddeeff"}`))
	}))
	defer server.Close()

	body, err := requestToken(server.URL, "alice", "secret", "", "")
	require.Nil(t, err)
	assert.Contains(t, string(body), "00112233445566778899aabbccddeeff")
}

func TestRequestTokenScoping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "00112233445566778899aabbccddeeff", r.Header.Get("X-Auth-Token"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":true,"token":"ffeeddccbbaa99887766554433221100","scoped":true}`))
	}))
	defer server.Close()

	body, err := requestToken(server.URL, "", "", "00112233445566778899aabbccddeeff", "tenant1")
	require.Nil(t, err)
	assert.Contains(t, string(body), `"scoped":true`)
}

func TestRequestTokenServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"result":false,"message":"verification failed"}`))
	}))
	defer server.Close()

	_, err := requestToken(server.URL, "alice", "wrong", "", "")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "verification failed")
}
