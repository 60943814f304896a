package main

import "github.com/H2Oxford/h2ox-api/cmd"

func main() {
	cmd.Execute()
}
