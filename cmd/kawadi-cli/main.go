package main

import "kawadi-core/cmd/kawadi-cli/cmd"

func main() {
	cmd.Execute()
}
