package main

import "github.com/oshokin/stoppuhr/cmd/lane-watch/cmd"

func main() {
	cmd.Execute()
}
