// Command docscraper crawls documentation sites into an extraction corpus.
package main

import "github.com/docfoundry/docscraper/cmd"

func main() {
	cmd.Execute()
}
