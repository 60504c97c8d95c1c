package main

import "github.com/medhire/auth-service/cmd"

func main() {
	cmd.Execute()
}
