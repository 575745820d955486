// Command gitflow-mcpd is the gitflow-mcp daemon: it serves the MCP
// tool surface of spec §4.8 over standard input/output and co-hosts
// the OAuth callback HTTP listener of spec §4.9 on its own port.
//
// Every log line in this process goes to standard error. Standard
// output is reserved for the MCP transport's framed protocol
// messages; a single stray log byte there corrupts the session.
package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gitflow-mcp/gitflow-mcp/internal/authservice"
	"github.com/gitflow-mcp/gitflow-mcp/internal/config"
	"github.com/gitflow-mcp/gitflow-mcp/internal/datastore"
	"github.com/gitflow-mcp/gitflow-mcp/internal/dispatcher"
	"github.com/gitflow-mcp/gitflow-mcp/internal/oauthcallback"
	"github.com/gitflow-mcp/gitflow-mcp/internal/secretstore"
	"github.com/gitflow-mcp/gitflow-mcp/internal/sessionservice"
)

func main() {
	logger := log.New(os.Stderr, "gitflow-mcpd ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	store, err := datastore.Open(cfg.DatabaseURL, cfg.DatabasePoolMin, cfg.DatabasePoolMax, cfg.DatabaseIdleTime, cfg.DatabaseConnTime, logger)
	if err != nil {
		logger.Fatalf("datastore: %v", err)
	}
	defer store.Close()

	secrets, err := secretstore.New(cfg.KeychainService, cfg.VaultIdentity, store, logger)
	if err != nil {
		logger.Fatalf("secretstore: %v", err)
	}

	auth, err := authservice.New(authservice.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		Scopes:       cfg.GitHubScopes,
		StateTTL:     cfg.OAuthStateTTL,
		JWTSecret:    cfg.JWTSecret,
		JWTExpiresIn: cfg.JWTExpiresIn,
		JWTIssuer:    cfg.JWTIssuer,
	}, store, secrets, logger)
	if err != nil {
		logger.Fatalf("authservice: %v", err)
	}
	defer auth.Stop()

	sessions := sessionservice.New(store, logger)

	dispatcherServer := dispatcher.New(auth, sessions, store, cfg.CloneBaseDir, cfg.GitSubprocessTimeout, logger)

	impl := &gomcp.Implementation{
		Name:    "gitflow-mcp",
		Title:   "gitflow-mcp",
		Version: "0.1.0",
	}
	mcpServer := gomcp.NewServer(impl, &gomcp.ServerOptions{HasTools: true})
	dispatcher.Register(mcpServer, dispatcherServer)

	callbackAddr := callbackListenAddr(cfg.GitHubRedirectURI)
	callbackSrv := oauthcallback.New(auth, logger)
	httpSrv := &http.Server{
		Addr:              callbackAddr,
		Handler:           callbackSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		logger.Printf("oauth callback listening on %s", callbackAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("oauth callback server: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("serving MCP tools over stdio")
		serveErr <- mcpServer.Run(ctx, gomcp.NewStdioTransport())
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutting down...")
	case err := <-serveErr:
		if err != nil {
			logger.Printf("mcp server stopped: %v", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// callbackListenAddr extracts ":<port>" from the configured redirect
// URI so the OAuth listener binds the port the GitHub OAuth app was
// registered with.
func callbackListenAddr(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Port() == "" {
		return ":3000"
	}
	return ":" + u.Port()
}
