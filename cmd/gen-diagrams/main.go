// gen-diagrams renders scenario definitions as Mermaid flowcharts.
// Run: go run ./cmd/gen-diagrams scenario.json [more.json...]
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rendis/chatflow/internal/diagram"
	"github.com/rendis/chatflow/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gen-diagrams <scenario.json> [more.json...]")
		os.Exit(2)
	}

	for _, path := range os.Args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}

		var def schema.ScenarioDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			fmt.Fprintf(os.Stderr, "parse %s: %v\n", path, err)
			os.Exit(1)
		}

		fmt.Printf("%%%% %s\n", path)
		fmt.Println(diagram.Mermaid(diagram.FromDefinition(&def)))
	}
}
