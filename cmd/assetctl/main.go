// Command assetctl runs maintenance tasks against the media asset store:
// schema migrations, one-shot purge runs, product seeding and admin tokens.
package main

func main() {
	Execute()
}
