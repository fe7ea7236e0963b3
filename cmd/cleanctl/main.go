package main

import (
	"os"

	"github.com/dataclean/cleanctl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
