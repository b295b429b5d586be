package main

import "github.com/oshokin/stoppuhr/cmd/stoppuhr-server/cmd"

func main() {
	cmd.Execute()
}
