// Command offertory-sheets-auth authorizes the Sheets transport with a
// Google user account and saves the token read via GOOGLE_OAUTH_TOKEN_FILE.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/oauth2"

	"offertory/internal/cli"
	gsheet "offertory/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()

	oauthCfg := gsheet.OAuthConfig{
		ClientJSON: os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"),
		ClientFile: os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"),
		TokenFile:  os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"),
	}
	if oauthCfg.TokenFile == "" {
		oauthCfg.TokenFile = "token.json"
	}
	cfg, err := oauthCfg.ClientConfig()
	if err != nil {
		log.Fatalf("oauth config: %v", err)
	}

	// The redirect URI must be registered on the OAuth client.
	redirectPort := os.Getenv("OAUTH_REDIRECT_PORT")
	if redirectPort == "" {
		redirectPort = "8085"
	}
	cfg.RedirectURL = "http://localhost:" + redirectPort + "/callback"

	state := randomState()
	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Addr: "127.0.0.1:" + redirectPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errStr := q.Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization complete. You may close this window.")
		select {
		case codeCh <- q.Get("code"):
		default:
		}
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("callback server: %v", err)
		}
	}()
	defer srv.Close()

	fmt.Printf("Open this URL to authorize spreadsheet access:\n%s\n",
		cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case code := <-codeCh:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			log.Fatalf("token exchange: %v", err)
		}
		if err := gsheet.SaveToken(oauthCfg.TokenFile, tok); err != nil {
			log.Fatalf("save token: %v", err)
		}
		fmt.Printf("Saved token to %s\n", oauthCfg.TokenFile)
	case <-time.After(5 * time.Minute):
		log.Fatalf("authorization timed out")
	case <-interrupt:
		log.Fatalf("interrupted")
	}
}

func randomState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("generate state: %v", err)
	}
	return hex.EncodeToString(b)
}
