package core

import (
	"log"
	"os"
)

// NewLogger returns a stderr logger prefixed with the component name.
func NewLogger(component string) *log.Logger {
	prefix := ""
	if component != "" {
		prefix = "stepflow-gateway/" + component + " "
	}
	return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmsgprefix)
}
