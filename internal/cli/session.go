package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/acknak/pothook/internal/session"
	"github.com/spf13/cobra"
)

func newSessionCmd(app *appState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or change the session of a running pothook server",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "Server address (default POTHOOK_HTTP_ADDR)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current session settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.init(); err != nil {
				return err
			}
			cfg, err := app.sessionRequest(cmd.Context(), addr, http.MethodGet, "/api/v1/session", nil)
			if err != nil {
				return err
			}
			return printSession(app.outWriter(), cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <field> <value>",
		Short: "Change one session field (" + strings.Join(session.Fields(), ", ") + ")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.init(); err != nil {
				return err
			}
			body, err := json.Marshal(map[string]string{"value": args[1]})
			if err != nil {
				return err
			}
			cfg, err := app.sessionRequest(cmd.Context(), addr, http.MethodPut, "/api/v1/session/"+args[0], body)
			if err != nil {
				return err
			}
			return printSession(app.outWriter(), cfg)
		},
	})

	return cmd
}

func (a *appState) sessionRequest(ctx context.Context, addr, method, path string, body []byte) (session.Config, error) {
	if addr == "" {
		addr = a.cfg.HTTPAddr
	}
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(base, "/")+path, bytes.NewReader(body))
	if err != nil {
		return session.Config{}, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return session.Config{}, fmt.Errorf("contact pothook server at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return session.Config{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Detail != "" {
				return session.Config{}, fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Detail)
			}
			return session.Config{}, fmt.Errorf("%s", apiErr.Error)
		}
		return session.Config{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var cfg session.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return session.Config{}, fmt.Errorf("decode session: %w", err)
	}
	return cfg, nil
}

func printSession(w io.Writer, cfg session.Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
