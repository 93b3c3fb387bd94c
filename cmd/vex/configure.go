package main

import (
	"fmt"
	"os"

	"github.com/hooop/vex/internal/config"
)

// runConfigure implements `vex configure` (spec §6): interactive prompt
// for the LLM API key, persisted owner-only.
func runConfigure() error {
	store, err := config.NewCredentialStore()
	if err != nil {
		return err
	}
	if err := store.PromptAndSave(int(os.Stdin.Fd())); err != nil {
		return err
	}
	fmt.Println("vex: API key saved.")
	return nil
}
