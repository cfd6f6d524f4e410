package main

import (
	"os"

	"github.com/project-devrig/devrig/cmd/devrig-redirectio/redirectio"
)

func main() {
	redirectio.Main(os.Args[1:])
}
