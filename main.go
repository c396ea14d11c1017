package main

import (
	"os"
	"runtime/debug"

	"github.com/mezonai/headerd/bootstrap"
	"github.com/mezonai/headerd/cmd"
	"github.com/mezonai/headerd/logx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_ = logx.Errorf("NODE CRASHED: %v\n%s", r, debug.Stack())
			os.Exit(bootstrap.ExitAbort)
		}
	}()

	cmd.Execute()
}
