// Command ledgerctl is a terminal client for the import pipeline and bulk
// operations.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
