// Command querypulse normalizes query telemetry, maintains performance
// baselines and raises alerts.
package main

import "os"

func main() {
	os.Exit(execute())
}
