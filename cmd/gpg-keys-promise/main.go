package main

import (
	"fmt"
	"os"

	"github.com/danmuck/promisectl/internal/modules"
	"github.com/danmuck/promisectl/internal/promise"
)

func main() {
	entry, ok := modules.Default().Resolve("gpg_keys")
	if !ok {
		fmt.Fprintln(os.Stderr, "gpg_keys: module not registered")
		os.Exit(1)
	}
	promise.Main(entry.New(), entry.Config())
}
