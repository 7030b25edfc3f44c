// SPDX-FileCopyrightText: 2018 Yahoo Japan Corporation
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	policy "github.com/databus23/goslo.policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/token"
	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// utility functionality

// VersionData is used by version advertisement handlers.
type VersionData struct {
	Status string            `json:"status"`
	ID     string            `json:"id"`
	Links  []versionLinkData `json:"links"`
}

// versionLinkData is used by version advertisement handlers, as part of the
// VersionData struct.
type versionLinkData struct {
	URL      string `json:"href"`
	Relation string `json:"rel"`
	Type     string `json:"type,omitempty"`
}

const authTokenHeader = "X-Auth-Token" //nolint:gosec //not a credential

var policyEnforcer *policy.Enforcer
var issueErrorsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "k2hr3_token_issue_errors_count", Help: "Number of failed token issuances"})
var verifyFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "k2hr3_token_verify_failures_count", Help: "Number of tokens rejected during verification"})
var upstreamErrorsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "k2hr3_identity_upstream_errors_count", Help: "Number of technical errors talking to the external identity service"})

func init() {
	prometheus.MustRegister(issueErrorsCounter, verifyFailuresCounter, upstreamErrorsCounter)
}

// provides version data
func versionData() VersionData {
	return VersionData{
		Status: "CURRENT",
		ID:     "v1",
		Links: []versionLinkData{
			{
				Relation: "self",
				URL:      "/v1/",
			},
			{
				Relation: "describedby",
				URL:      "https://github.com/yahoojapan/k2hr3-api/tree/master/README.md",
				Type:     "text/html",
			},
		},
	}
}

// errorResponse is the uniform error body of the v1 API. The message never
// echoes seed contents or credentials.
type errorResponse struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
}

// ReturnJSON is a convenience function for HTTP handlers returning JSON data.
// The `code` argument specifies the HTTP Response code, usually 200.
func ReturnJSON(w http.ResponseWriter, code int, data interface{}) {
	payload, err := json.Marshal(&data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(payload); err != nil {
		util.LogError("cannot write response: %s", err.Error())
	}
}

// ReturnError maps an error onto the HTTP status code of its kind and counts
// it in the corresponding metric.
func ReturnError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch token.KindOf(err) {
	case token.KindInvalidInput:
		code = http.StatusBadRequest
	case token.KindNotFound:
		code = http.StatusNotFound
	case token.KindExpired, token.KindVerificationFailed:
		code = http.StatusUnauthorized
		verifyFailuresCounter.Add(1)
	case token.KindUpstreamUnavailable:
		code = http.StatusServiceUnavailable
		upstreamErrorsCounter.Add(1)
	}
	if code >= 500 {
		issueErrorsCounter.Add(1)
	}
	ReturnJSON(w, code, errorResponse{Result: false, Message: err.Error()})
}

// presentedToken extracts the token from the X-Auth-Token header. A legacy
// "U=" user-token prefix is stripped at this edge.
func presentedToken(req *http.Request) string {
	tok := req.Header.Get(authTokenHeader)
	tok = strings.TrimPrefix(tok, "U=")
	return strings.TrimSpace(tok)
}

// policyEngine loads the authorization rules lazily. Without a configured
// policy file every authenticated request is allowed.
func policyEngine() *policy.Enforcer {
	if policyEnforcer != nil {
		return policyEnforcer
	}
	policyFile := viper.GetString("k2hr3.policy_file")
	if policyFile == "" {
		return nil
	}
	filebytes, err := os.ReadFile(policyFile)
	if err != nil {
		util.LogFatal("policy file %s not found: %s", policyFile, err.Error())
		return nil
	}
	var rules map[string]string
	if err := json.Unmarshal(filebytes, &rules); err != nil {
		util.LogFatal("policy file %s is not valid JSON: %s", policyFile, err.Error())
		return nil
	}
	policyEnforcer, err = policy.NewEnforcer(rules)
	if err != nil {
		util.LogFatal("cannot compile policy rules: %s", err.Error())
		return nil
	}
	return policyEnforcer
}

// authorized checks the given rule for the authenticated user.
func authorized(rule, user string) bool {
	pe := policyEngine()
	if pe == nil {
		return true
	}
	return pe.Enforce(rule, policy.Context{
		Auth: map[string]string{"user_name": user},
	})
}

func gaugeInflight(handler http.Handler) http.Handler {
	inflightGauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "k2hr3_requests_inflight", Help: "Number of inflight HTTP requests served by the API"})
	prometheus.MustRegister(inflightGauge)

	return promhttp.InstrumentHandlerInFlight(inflightGauge, handler)
}

func observeDuration(handler http.Handler) http.Handler {
	durationSummary := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{Name: "k2hr3_request_duration_seconds", Help: "Duration/latency of a request"}, nil)
	prometheus.MustRegister(durationSummary)

	return promhttp.InstrumentHandlerDuration(durationSummary, handler)
}
