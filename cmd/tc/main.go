package main

import (
	"os"

	"github.com/termcoder/tc/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
