// Command fetch is the CLI front-end for the download engine.
package main

import "github.com/fetchkit/fetch/cmd"

func main() {
	cmd.Execute()
}
