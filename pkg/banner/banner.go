package banner

import (
	"fmt"

	"chatloom/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██╗      ██████╗  ██████╗ ███╗   ███╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██║     ██╔═══██╗██╔═══██╗████╗ ████║
██║     ███████║███████║   ██║   ██║     ██║   ██║██║   ██║██╔████╔██║
██║     ██╔══██║██╔══██║   ██║   ██║     ██║   ██║██║   ██║██║╚██╔╝██║
╚██████╗██║  ██║██║  ██║   ██║   ███████╗╚██████╔╝╚██████╔╝██║ ╚═╝ ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝ ╚═════╝  ╚═════╝ ╚═╝     ╚═╝
`

// Print writes the startup banner plus a short readiness checklist derived
// from the effective config.
func Print(cfg *config.Config, addr, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/chat              - Run a turn (SSE stream of events)")
	fmt.Println("GET  /v1/threads/{id}      - Thread detail with message tree")
	fmt.Println("POST /v1/votes             - Upvote/downvote a message")
	fmt.Println("POST /v1/workspaces/{ws}/* - Catalog ingestion (backend keys)")

	fmt.Println("\n== Production? ================================================")
	if cfg == nil {
		fmt.Println("- No config loaded; running on defaults")
		fmt.Println()
		return
	}
	if n := len(cfg.Security.APIKeys.Backend); n > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for catalog ingestion)")
	}
	if n := len(cfg.Security.APIKeys.Frontend); n > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if n := len(cfg.Security.APIKeys.Admin); n > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.LLM.APIKey != "" || cfg.LLM.BaseURL != "" {
		model := cfg.LLM.Model
		if model == "" {
			model = "(default)"
		}
		fmt.Printf("- LLM: configured, model %s\n", model)
	} else {
		fmt.Println("- LLM: unconfigured (set llm.api_key or llm.base_url)")
	}
	if cfg.Retention.Enabled {
		if cfg.Retention.Cron != "" {
			fmt.Printf("- Retention: enabled (cron=%s, period=%s)\n", cfg.Retention.Cron, cfg.Retention.Period)
		} else {
			fmt.Printf("- Retention: enabled (period=%s)\n", cfg.Retention.Period)
		}
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs =======================================================")
}
