package main

import "os"

// Build-time variables 'version', 'commit' and 'date' are declared in root.go
// and set via -ldflags.
func main() {
	os.Exit(Execute())
}
