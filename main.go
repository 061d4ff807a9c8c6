// Command batchpipe runs batch analysis operations over a project.
package main

import "batchpipe/internal/cli"

func main() {
	cli.Execute()
}
