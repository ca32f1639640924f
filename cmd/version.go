package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mcpgateway/internal/jsonrpc"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
)

// versionCheckTimeout bounds the optional live handshake against a running
// gateway's stateless RPC endpoint.
const versionCheckTimeout = 5 * time.Second

// versionEndpoint, when set, is probed with an MCP initialize call to
// report the running gateway's protocol version. Only the protocol
// version is reported; the backend catalog is not inspected.
var versionEndpoint string

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the gateway CLI version",
		Long: `Displays the mcpgateway CLI version and, when --endpoint is given,
performs an MCP initialize handshake against a running gateway's stateless
RPC endpoint to report its protocol version.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpgateway version %s\n", rootCmd.Version)

			if versionEndpoint == "" {
				return
			}
			protocolVersion, err := probeGateway(versionEndpoint)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\nGateway at %s: unreachable (%v)\n", versionEndpoint, err)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nGateway at %s: protocol %s\n", versionEndpoint, protocolVersion)
		},
	}
	cmd.Flags().StringVar(&versionEndpoint, "endpoint", "", "Stateless RPC endpoint of a running gateway to probe, e.g. http://localhost:8080/rpc")
	return cmd
}

// probeGateway performs an MCP initialize handshake against a gateway's
// stateless RPC endpoint and returns the protocol version it reports.
func probeGateway(endpoint string) (string, error) {
	req, err := jsonrpc.NewRequest(1, "initialize", mcp.InitializeRequestParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      mcp.Implementation{Name: "mcpgateway-cli", Version: rootCmd.Version},
	})
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("gateway returned error: %s", rpcResp.Error.Message)
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return "", fmt.Errorf("decoding initialize result: %w", err)
	}
	return result.ProtocolVersion, nil
}
