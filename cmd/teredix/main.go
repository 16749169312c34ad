// terediX - infrastructure discovery
// Scan. Store. Relate.
package main

func main() {
	Execute()
}
