package main

import "github.com/fieldbus-tools/vibro-sentinel/cmd/vibro-alarmd/cmd"

func main() {
	cmd.Execute()
}
