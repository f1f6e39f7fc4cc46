package main

import "github.com/casf-health/verifier/cmd/verifier/cmd"

func main() {
	cmd.Execute()
}
