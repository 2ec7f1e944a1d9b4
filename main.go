package main

import "github.com/openswarm-dev/swarmgate/cmd"

func main() {
	cmd.Execute()
}
