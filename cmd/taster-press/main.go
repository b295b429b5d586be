package main

import "github.com/oshokin/stoppuhr/cmd/taster-press/cmd"

func main() {
	cmd.Execute()
}
