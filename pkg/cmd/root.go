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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

// Version of the K2HR3 API server
var version string = "1.0.0"
var showVersion bool

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "k2hr3-api",
	Short: "Token and identity federation API of the K2HR3 authorization system",
	Long: `The k2hr3-api command runs the token service that authenticates users against
        the configured identity provider and issues, scopes and verifies the opaque
        security tokens of the K2HR3 system. It can also be used as a client against
        a service running elsewhere.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println("k2hr3-api version", version)
			os.Exit(0)
		} else {
			// If no command is provided, show the help message
			if err := cmd.Help(); err != nil {
				fmt.Fprintf(os.Stderr, "Error showing help: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	},
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, err)
		os.Exit(-1)
	}
}

func setDefaultConfig() {
	viper.SetDefault("k2hr3.identity_driver", "dummy")
	viper.SetDefault("k2hr3.storage_driver", "mock")
	viper.SetDefault("k2hr3.bind_address", "0.0.0.0:18080")
	viper.SetDefault("k2hr3.token_lifetime", "24h")
	viper.SetDefault("keystone.token_cache_time", "900s")
	viper.SetDefault("keystone.probe_timeout", "5s")
	viper.SetDefault("keystone.domain_id", "default")
	viper.SetDefault("oidc.username_claim", "sub")
}

func readConfig() {
	// fall back to config defaults when the default config file isn't there
	if _, err := os.Stat(configFile); err != nil {
		return
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("toml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "cannot read config file %s: %v\n", configFile, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		setDefaultConfig()
		readConfig()
	})

	RootCmd.PersistentFlags().StringVarP(&configFile, "config-file", "", "/etc/k2hr3/k2hr3.conf", "Configuration file to use")
	RootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print the version number of the K2HR3 API")
}
