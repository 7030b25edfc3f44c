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

// Package api contains the HTTP shell of the token service: the versioned
// router, the v1 handlers and the metrics endpoint.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/identity"
	"github.com/yahoojapan/k2hr3-api/pkg/keystone"
	"github.com/yahoojapan/k2hr3-api/pkg/storage"
	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// Server initializes and starts the API server, hooking it up to the API
// router. The storage driver handle is held for the whole process lifetime
// and released on return.
func Server() error {
	kv := storage.NewDriver()
	defer kv.Close()

	store := token.NewStore(kv)
	resolver := keystone.NewResolver(kv, nil)
	active := identity.NewProviderDriver(store, resolver)

	// every deployment keeps verifying the tokens the local providers may
	// have published before a provider switch
	broker := identity.NewBroker(active, identity.Dummy(store))

	mainRouter := setupRouter(broker, store)

	bindAddress := viper.GetString("k2hr3.bind_address")
	util.LogInfo("listening on %s", bindAddress)

	// enable CORS
	c := cors.New(cors.Options{
		AllowedHeaders: []string{"X-Auth-Token", "Content-Type"},
	})
	handler := c.Handler(gaugeInflight(observeDuration(mainRouter)))

	return http.ListenAndServe(bindAddress, handler)
}

func setupRouter(broker *identity.Broker, store *token.Store) *mux.Router {
	mainRouter := mux.NewRouter()

	// the API is versioned, other paths are not
	mainRouter.HandleFunc("/v1", func(w http.ResponseWriter, r *http.Request) {
		allVersions := struct {
			Versions []VersionData `json:"versions"`
		}{[]VersionData{versionData()}}
		ReturnJSON(w, http.StatusMultipleChoices, allVersions)
	})
	// hook up the v1 API (this code is structured so that a newer API
	// version can be added easily later)
	v1Handler := NewV1Handler(broker, store)
	mainRouter.PathPrefix("/v1/").Handler(http.StripPrefix("/v1", v1Handler))

	mainRouter.Handle("/metrics", promhttp.Handler())

	return mainRouter
}
