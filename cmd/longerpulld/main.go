// Command longerpulld runs the LongerPull framing/dispatch engine.
package main

func main() {
	Execute()
}
