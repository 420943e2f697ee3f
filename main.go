package main

import "github.com/dayuer/tourguide-go/cmd"

func main() {
	cmd.Execute()
}
