// Command tss drives the target stack shield: route a test channel to a
// target, show crossbar state, and sweep every routed pair.
package main

import "os"

func main() {
	os.Exit(newApp(os.Stdout, os.Stderr).run(os.Args[1:]))
}
