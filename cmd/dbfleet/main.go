// dbfleet - multi-account managed database discovery and dispatch.
package main

func main() {
	Execute()
}
