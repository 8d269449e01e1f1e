package main

import "github.com/iksnae/enroll-session/cmd"

func main() {
	cmd.Execute()
}
