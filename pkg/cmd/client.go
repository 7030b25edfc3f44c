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

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
)

var (
	apiURL    string
	authUser  string
	authPass  string
	authToken string
	tenant    string
)

// tokenCmd requests a token from a running K2HR3 API service
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Request a security token from a K2HR3 API service",
	Long: `Authenticates against a running K2HR3 API service and prints the issued
        token response. Pass credentials for an unscoped token, or an existing
        token together with --tenant to scope it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// transparently support CLI scripts that keep credentials in the environment
		if authUser == "" {
			authUser = os.Getenv("K2HR3_USER")
		}
		if authPass == "" {
			authPass = os.Getenv("K2HR3_PASSWORD")
		}
		if authToken == "" {
			authToken = os.Getenv("K2HR3_TOKEN")
		}

		if authUser == "" && authToken == "" {
			return fmt.Errorf("either credentials (--user/--password) or a token (--token) is required")
		}

		body, err := requestToken(apiURL, authUser, authPass, authToken, tenant)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

// requestToken posts a token request to the service at baseURL and returns
// the raw JSON answer.
func requestToken(baseURL, user, password, token, tenantName string) ([]byte, error) {
	auth := map[string]interface{}{}
	if user != "" {
		auth["passwordCredentials"] = map[string]string{"username": user, "password": password}
	}
	if tenantName != "" {
		auth["tenantName"] = tenantName
	}
	payload, err := json.Marshal(map[string]interface{}{"auth": auth})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequest("POST", baseURL+"/v1/user/tokens", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("server answered %s: %s", resp.Status, string(body))
	}
	return body, nil
}

func init() {
	RootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&apiURL, "api-url", "http://127.0.0.1:18080", "Base URL of the K2HR3 API service")
	tokenCmd.Flags().StringVarP(&authUser, "user", "u", "", "Username (default: environment variable K2HR3_USER)")
	tokenCmd.Flags().StringVarP(&authPass, "password", "p", "", "Password (default: environment variable K2HR3_PASSWORD)")
	tokenCmd.Flags().StringVarP(&authToken, "token", "t", "", "Existing token to scope (default: environment variable K2HR3_TOKEN)")
	tokenCmd.Flags().StringVar(&tenant, "tenant", "", "Tenant name to scope the token to")
}
