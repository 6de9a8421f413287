// Command udpsess is the CLI entry point.
//
// Runs either side of the session protocol over a UDP socket or a WebRTC
// DataChannel. The server echoes every payload back; the client sends each
// stdin line and prints whatever comes back.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -transport, -addr, -ws, -config).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/udpsess/internal/config"
	"github.com/1ureka/udpsess/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: server or client")
	transportFlag := flag.String("transport", "", "Datagram layer: udp or webrtc")
	addr := flag.String("addr", "", "UDP listen address (server) or remote address (client)")
	ws := flag.String("ws", "", "WebSocket signaling listen address (server) or URL (client), webrtc only")
	configPath := flag.String("config", "", "Path to a TOML config file")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Role = config.Role(strings.ToLower(*role))
		case "transport":
			cfg.Transport = config.TransportKind(strings.ToLower(*transportFlag))
		case "addr":
			cfg.Addr = *addr
		case "ws":
			cfg.WS = *ws
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if !util.SetLogLevel(cfg.LogLevel) {
		util.LogWarning("unknown log level %q, keeping info", cfg.LogLevel)
	}
	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("udpsess v%s", version))
	pterm.Println()

	if *role == "" && *configPath == "" {
		// No -role flag and no file → interactive mode.
		cfg = askConfig(cfg)
	}

	if cfg.Transport == config.TransportWebRTC && cfg.Role == config.RoleClient {
		wsURL, err := normalizeWSURL(cfg.WS)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.WS = wsURL
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	var err error
	switch cfg.Role {
	case config.RoleServer:
		err = runServer(ctx, cfg)
	case config.RoleClient:
		err = runClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askConfig fills role, transport and address through interactive prompts.
func askConfig(cfg config.Config) config.Config {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server: echo every payload back", "Client: send lines from stdin"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
	} else {
		cfg.Role = config.RoleClient
	}

	kind, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{string(config.TransportUDP), string(config.TransportWebRTC)}).
		WithDefaultText("Select the transport").
		Show()
	pterm.Println()
	cfg.Transport = config.TransportKind(kind)

	switch {
	case cfg.Transport == config.TransportUDP:
		cfg.Addr = askText("UDP address", cfg.Addr)
	case cfg.Role == config.RoleClient:
		cfg.WS = askText("WebSocket URL (e.g. ws://host:port/ws?pin=123456)", "")
	}
	return cfg
}

// askText prompts for a line of text, falling back to def when left empty.
func askText(prompt, def string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		WithDefaultValue(def).
		Show()
	pterm.Println()

	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return def
}

// normalizeWSURL validates a raw WebSocket URL and points it at /ws, keeping
// the PIN query.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	out := fmt.Sprintf("%s://%s/ws", scheme, u.Host)
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}
