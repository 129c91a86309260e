package main

import (
	"fmt"
	"os"

	"github.com/danmuck/promisectl/internal/modules"
	"github.com/danmuck/promisectl/internal/promise"
)

func main() {
	entry, ok := modules.Default().Resolve("json_merge")
	if !ok {
		fmt.Fprintln(os.Stderr, "json_merge: module not registered")
		os.Exit(1)
	}
	promise.Main(entry.New(), entry.Config())
}
