package main

import (
	"os"

	appLog "kioskcal/internal/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		appLog.Error("kioskcal failed", err)
		os.Exit(1)
	}
}
