package main

import "casewatch/internal/app"

func main() {
	app.Main()
}
