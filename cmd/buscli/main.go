package main

import (
	"github.com/robotalks/chainbus/pkg/cli/sh"

	_ "github.com/robotalks/chainbus/pkg/cli/cmds/bus"
)

//go-build: CGO_ENABLED=0

func main() {
	sh.Main()
}
