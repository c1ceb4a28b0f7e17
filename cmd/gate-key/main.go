package main

import (
	"flag"
	"os"

	"github.com/stonevault/gate/internal/platform/config"
	"github.com/stonevault/gate/internal/tools/gatekey"
)

func main() {
	cfg, err := gatekey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := gatekey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
