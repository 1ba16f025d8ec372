package commands

import "github.com/btcsuite/btclog/v2"

// Subsystem is the logging tag of the CLI.
const Subsystem = "ZCLI"

// log is replaced once logging is set up in the root command.
var log = btclog.Disabled
