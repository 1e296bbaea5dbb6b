package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/njoerd114/familywall/internal/config"
	"github.com/njoerd114/familywall/internal/source"
	"github.com/njoerd114/familywall/internal/source/google"
	"github.com/njoerd114/familywall/internal/source/graph"
)

const (
	callbackAddr = "localhost:8085"
	callbackURL  = "http://" + callbackAddr + "/callback"
	authTimeout  = 5 * time.Minute
)

var authCmd = &cobra.Command{
	Use:   "auth <graph|google>",
	Short: "Sign in to a calendar provider and store the OAuth token",
	Long: `Opens the browser to the provider's consent page, receives the code on
` + callbackURL + ` and writes the token to the token_file configured for
the source. The daemon refreshes the token from then on.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"graph", "google"},
	RunE:      runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfgPath := viper.GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	var (
		oc        *oauth2.Config
		tokenFile string
		opts      []oauth2.AuthCodeOption
	)
	switch args[0] {
	case "graph":
		if cfg.Graph == nil {
			return errors.New("no graph section in config")
		}
		oc = graph.New(graph.Config{ClientID: cfg.Graph.ClientID, TenantID: cfg.Graph.TenantID}, nil).OAuthConfig()
		tokenFile = cfg.Graph.TokenFile
		opts = []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "consent")}
	case "google":
		if cfg.Google == nil {
			return errors.New("no google section in config")
		}
		oc, err = google.New(google.Config{CredentialsFile: cfg.Google.CredentialsFile}, nil).OAuthConfig()
		if err != nil {
			return err
		}
		tokenFile = cfg.Google.TokenFile
		opts = []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	default:
		return fmt.Errorf("unknown provider %q (supported: graph, google)", args[0])
	}
	oc.RedirectURL = callbackURL

	out := cmd.OutOrStdout()
	tok, err := tokenViaLoopback(cmd.Context(), oc, func(url string) {
		_, _ = fmt.Fprintf(out, "Opening browser for %s sign-in...\n", args[0])
		if err := openBrowser(url); err != nil {
			_, _ = fmt.Fprintf(out, "Could not open a browser. Visit this URL:\n%s\n", url)
		}
		_, _ = fmt.Fprintln(out, "Waiting for authorization...")
	}, opts...)
	if err != nil {
		return err
	}

	if err := source.WriteToken(tokenFile, tok); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Token saved to %s\n", tokenFile)
	return nil
}

// tokenViaLoopback serves the OAuth callback locally, hands the consent URL
// to open and exchanges the returned code for a token.
func tokenViaLoopback(ctx context.Context, oc *oauth2.Config, open func(url string), opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return nil, fmt.Errorf("listening for OAuth callback: %w", err)
	}

	state := fmt.Sprintf("fw-%d", time.Now().UnixNano())
	codes := make(chan string, 1)
	errs := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "authorization failed: "+q.Get("error"), http.StatusBadRequest)
			select {
			case errs <- fmt.Errorf("authorization failed: %s", q.Get("error")):
			default:
			}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, "Signed in. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	open(oc.AuthCodeURL(state, opts...))

	var code string
	select {
	case code = <-codes:
	case err := <-errs:
		return nil, err
	case <-time.After(authTimeout):
		return nil, errors.New("timed out waiting for authorization")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	return cmd.Start()
}
