package main

import (
	"os"

	"github.com/JakeFAU/album-ripper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
