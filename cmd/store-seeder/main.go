// Package main is the entry point for the store seeder, which seeds a fresh
// CI deployment with the demo project and the demo CI image exactly once.
package main

func main() {
	Execute()
}
