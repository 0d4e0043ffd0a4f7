package main

import (
	"os"

	"github.com/kerbaras/mfdl/cmd/mfdl"
)

func main() {
	os.Exit(cmd.Execute())
}
