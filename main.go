package main

import "github.com/devopsext/webtrace/cmd"

func main() {
	cmd.Execute()
}
