package main

import (
	"github.com/project-devrig/devrig/linters"
	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(linters.YamlJSONTagsMatch)
}
