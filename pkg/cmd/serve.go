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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the K2HR3 API service",
	Long:  "Run the token service against the configured identity provider and KV store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.Server()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)

	var bindAddr, policyFile, storageFile string

	serveCmd.Flags().StringVar(&bindAddr, "bind-address", "0.0.0.0:18080", "IP-Address and port where the API is listening for incoming requests (e.g. 0.0.0.0:18080)")
	viper.BindPFlag("k2hr3.bind_address", serveCmd.Flags().Lookup("bind-address"))
	serveCmd.Flags().StringVar(&policyFile, "policy-file", "", "Location of the authorization policy file")
	viper.BindPFlag("k2hr3.policy_file", serveCmd.Flags().Lookup("policy-file"))
	serveCmd.Flags().StringVar(&storageFile, "storage-file", "", "Location of the KV store file used by the bolt storage driver")
	viper.BindPFlag("k2hr3.storage_file", serveCmd.Flags().Lookup("storage-file"))
}
