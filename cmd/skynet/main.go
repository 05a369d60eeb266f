// Command skynet runs the multi-channel AI assistant gateway: a WebSocket
// and OpenAI-compatible HTTP surface, webhook ingress, and Discord/Telegram
// bot adapters, all funneling into one turn pipeline over a pluggable LLM
// provider router. Grounded on the teacher's cmd/nexus/main.go command-tree
// shape, reduced from its twenty-odd command groups (plugins, MCP, RAG,
// edge pairing, profiles, onboarding) down to the three spec.md actually
// needs: serve, migrate, doctor.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()

	rootCmd := buildRootCmd(log)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
