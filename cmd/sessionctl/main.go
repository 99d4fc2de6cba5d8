// sessionctl is a debugging CLI for the session SDK: it signs in and out
// against a backend, inspects the stored session, and completes browser-based
// OAuth flows by capturing the redirect on a loopback listener.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/examforge/sessionkit/credstore"
	"github.com/examforge/sessionkit/gateway"
	pkgconfig "github.com/examforge/sessionkit/pkg/config"
	"github.com/examforge/sessionkit/pkg/httpclient"
	"github.com/examforge/sessionkit/pkg/logger"
	"github.com/examforge/sessionkit/pkg/tracing"
	"github.com/examforge/sessionkit/session"
)

const usage = `usage: sessionctl <command> [args]

commands:
  login <email> <password>              sign in with credentials
  register <username> <email> <password> create an account and sign in
  whoami                                fetch and print the current user
  validate                              check whether the session is accepted
  refresh                               force a token refresh
  logout                                sign out and clear stored credentials
  oauth <google|apple|facebook>         browser OAuth via loopback redirect
`

type cliConfig struct {
	CallbackAddr  string `env:"SESSIONCTL_CALLBACK_ADDR" envDefault:"127.0.0.1:8765"`
	RedisAddr     string `env:"SESSIONCTL_REDIS_ADDR"`
	RedisPassword string `env:"SESSIONCTL_REDIS_PASSWORD"`
	RedisDB       int    `env:"SESSIONCTL_REDIS_DB" envDefault:"0"`
	OTELEnabled   bool   `env:"SESSIONCTL_OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint  string `env:"SESSIONCTL_OTEL_ENDPOINT" envDefault:"localhost:4318"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := session.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cliCfg := &cliConfig{}
	if err := pkgconfig.Load(cliCfg); err != nil {
		slog.Error("failed to load cli config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("sessionctl", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "sessionctl",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   cliCfg.OTELEndpoint,
		Enabled:        cliCfg.OTELEnabled,
	})
	if err != nil {
		log.Error("failed to init tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracerShutdown(shutdownCtx)
	}()

	manager, err := buildManager(ctx, cfg, cliCfg, log)
	if err != nil {
		log.Error("failed to build session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := run(ctx, manager, cliCfg, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildManager assembles the SDK. With a Redis address configured the
// credentials live in Redis (shared across processes); otherwise they go to
// the credentials file.
func buildManager(ctx context.Context, cfg *session.Config, cliCfg *cliConfig, log *slog.Logger) (*session.Manager, error) {
	var store credstore.Store
	if cliCfg.RedisAddr != "" {
		client, err := credstore.NewRedisClient(ctx, cliCfg.RedisAddr, cliCfg.RedisPassword, cliCfg.RedisDB)
		if err != nil {
			return nil, err
		}
		store = credstore.NewRedisStore(client, "sessionctl:")
	} else {
		store = credstore.NewFileStore(cfg.CredentialsPath)
	}

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.HTTPTimeout
	clientCfg.MaxRetries = cfg.MaxRetries

	gw := gateway.New(cfg.APIBaseURL, httpclient.New(clientCfg), store, log)
	return session.New(gw, store, log, session.WithBrowserOpener(openBrowser)), nil
}

func run(ctx context.Context, manager *session.Manager, cliCfg *cliConfig, command string, args []string) error {
	switch command {
	case "login":
		if len(args) != 2 {
			return errors.New("usage: sessionctl login <email> <password>")
		}
		user, err := manager.SignIn(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(user)

	case "register":
		if len(args) != 3 {
			return errors.New("usage: sessionctl register <username> <email> <password>")
		}
		user, err := manager.SignUp(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(user)

	case "whoami":
		user, err := manager.CurrentUser(ctx)
		if err != nil {
			return err
		}
		return printJSON(user)

	case "validate":
		result := manager.ValidateSession(ctx)
		return printJSON(result)

	case "refresh":
		if err := manager.RefreshSession(ctx); err != nil {
			return err
		}
		fmt.Println("session refreshed")
		return nil

	case "logout":
		manager.SignOut(ctx)
		fmt.Println("signed out")
		return nil

	case "oauth":
		if len(args) != 1 {
			return errors.New("usage: sessionctl oauth <google|apple|facebook>")
		}
		return runOAuth(ctx, manager, cliCfg, session.Provider(args[0]))

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// runOAuth starts a loopback HTTP listener for the provider redirect, opens
// the authorization URL, and blocks until the callback lands or the user
// gives up (Ctrl-C). Fragment-delivered tokens never reach an HTTP server,
// so the loopback path only sees query-style and code-style callbacks.
func runOAuth(ctx context.Context, manager *session.Manager, cliCfg *cliConfig, provider session.Provider) error {
	done := make(chan error, 1)

	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, req *http.Request) {
		callbackURL := "http://" + cliCfg.CallbackAddr + req.URL.RequestURI()

		handled, err := manager.HandleDeepLink(req.Context(), callbackURL)
		if err == nil && !handled {
			if code := req.URL.Query().Get("code"); code != "" {
				_, err = manager.ExchangeCode(req.Context(), code)
				handled = err == nil
			}
		}

		if err != nil {
			http.Error(w, "sign-in failed: "+err.Error(), http.StatusBadGateway)
			done <- err
			return
		}
		if !handled {
			http.Error(w, "redirect carried no tokens or code", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Signed in. You can close this window.</body></html>")
		done <- nil
	})

	listener, err := net.Listen("tcp", cliCfg.CallbackAddr)
	if err != nil {
		return fmt.Errorf("listen on callback address: %w", err)
	}
	server := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = server.Serve(listener) }()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL, err := manager.SignInWithProvider(ctx, provider)
	if err != nil {
		return err
	}
	fmt.Println("complete sign-in in your browser:", authURL)

	// An abandoned browser flow never resolves; waiting here until the user
	// interrupts mirrors that, without treating "not yet" as an error.
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		fmt.Println("\noauth flow abandoned")
		return nil
	}

	user, err := manager.CurrentUser(ctx)
	if err != nil {
		// The session is established; the profile fetch is a nicety.
		fmt.Println("signed in")
		return nil
	}
	return printJSON(user)
}

func openBrowser(_ context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		// Not fatal: the URL is printed and can be opened by hand.
		return nil
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
