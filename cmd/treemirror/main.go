// Command treemirror keeps a live, queryable copy of a remote instance tree
// fed by chunked snapshot and diff payloads.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
