// Command serialdispatch attaches serial ports and the console to the
// dispatch engine, prints the records they produce and accepts writes.
package main

func main() {
	Execute()
}
