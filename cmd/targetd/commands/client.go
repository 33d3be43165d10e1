package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/targetd/pkg/protocol"
)

// registerClientFlags adds the address/token flags shared by every
// one-shot admin subcommand.
func registerClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientAddr, "addr", "http://127.0.0.1:8443", "targetd server address")
	cmd.Flags().StringVar(&clientTokenName, "token-name", "", "auth token name")
	cmd.Flags().StringVar(&clientTokenValue, "token", "", "auth token secret")
}

// clientAddr/clientTokenName/clientTokenValue are the flags every admin
// subcommand needs to reach a running server: an address plus an
// optional token pair, since these one-shot calls don't load a full
// profile file the way serve and validate-config do.
var (
	clientAddr       string
	clientTokenName  string
	clientTokenValue string
)

// call sends a single Up_message to the server's /rpc endpoint and
// returns the decoded Down_message (§6).
func call(ctx context.Context, up protocol.UpMessage) (protocol.DownMessage, error) {
	body, err := protocol.EncodeUp(up)
	if err != nil {
		return protocol.DownMessage{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, clientAddr+"/rpc", bytes.NewReader(body))
	if err != nil {
		return protocol.DownMessage{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if clientTokenName != "" {
		req.Header.Set("X-Auth-Name", clientTokenName)
		req.Header.Set("X-Auth-Token", clientTokenValue)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return protocol.DownMessage{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.DownMessage{}, fmt.Errorf("read response: %w", err)
	}

	down, err := protocol.DecodeDown(respBody)
	if err != nil {
		return protocol.DownMessage{}, fmt.Errorf("decode response: %w", err)
	}
	if down.Type == protocol.DownError {
		var errRes protocol.ErrorResult
		if jsonErr := json.Unmarshal(down.Params, &errRes); jsonErr == nil {
			return down, fmt.Errorf("server error: %s: %s", errRes.Kind, errRes.Detail)
		}
	}
	return down, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
