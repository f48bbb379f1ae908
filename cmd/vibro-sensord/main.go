package main

import "github.com/fieldbus-tools/vibro-sentinel/cmd/vibro-sensord/cmd"

func main() {
	cmd.Execute()
}
