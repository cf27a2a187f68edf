// Command ema-realtime runs a realtime voice session against the local
// microphone and speaker.
//
// Usage:
//
//	ema-realtime run --config session.yaml
//	ema-realtime schema
//
// Provider keys are read from OPENAI_API_KEY, GEMINI_API_KEY and, for the
// sidecar transcriber, DEEPGRAM_API_KEY.
package main

import (
	"fmt"
	"os"

	"github.com/koscakluka/ema-realtime/cmd/ema-realtime/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
