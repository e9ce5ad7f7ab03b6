// Command xmlrpc-bridge runs XML-RPC flows and makes one-off XML-RPC calls.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "xmlrpc-bridge",
	Short:         "XML-RPC client and server nodes for message flows",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `xmlrpc-bridge deploys a flow file whose nodes call remote XML-RPC
methods and answer XML-RPC requests.

Process settings come from XMLRPC_BRIDGE_* environment variables:
  XMLRPC_BRIDGE_LOG_LEVEL         debug|info|warn|error (default info)
  XMLRPC_BRIDGE_LOG_FORMAT        console|json (default console)
  XMLRPC_BRIDGE_LOG_FILE          also write JSON logs here, rotated
  XMLRPC_BRIDGE_METRICS_ADDR      serve Prometheus metrics, e.g. :9090
  XMLRPC_BRIDGE_ETCD_ENDPOINTS    comma-separated, enables etcd discovery
  XMLRPC_BRIDGE_RESPONSE_TIMEOUT  default server response timeout (30s)
  XMLRPC_BRIDGE_SHUTDOWN_TIMEOUT  how long closing may take (10s)
  XMLRPC_BRIDGE_LANGUAGE          language of node status texts (en)`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, callCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
