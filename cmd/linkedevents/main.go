// Command linkedevents runs the event import service: scheduled importers,
// the admin API, and one-off imports from the command line.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
