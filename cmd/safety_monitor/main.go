// Command safety_monitor watches detector output for hazards near an infant
// and serves the resulting alerts over HTTP.
package main

func main() {
	Execute()
}
