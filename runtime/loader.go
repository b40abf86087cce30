// Package runtime wires the relay together: session registry, presence
// tracking, per-conversation workers and event fan-out. It orchestrates
// without owning domain rules.
package runtime

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed censored/*
var censoredFolder embed.FS

// CensoredData carries the parsed blacklist plus metadata for logging.
type CensoredData struct {
	Words     []string
	Languages []string
}

// LoadCensoredWords parses the embedded per-language dictionaries
// (one word per line, "fr.txt" -> language "fr") into a unique word list.
func LoadCensoredWords() (*CensoredData, error) {
	const dir = "censored"
	entries, err := fs.ReadDir(censoredFolder, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	unique := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := censoredFolder.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return nil, err
		}

		// Scanner handles \n and \r\n line endings alike.
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			unique[strings.ToLower(line)] = struct{}{}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
	}

	words := make([]string, 0, len(unique))
	for word := range unique {
		words = append(words, word)
	}
	return &CensoredData{Words: words, Languages: languages}, nil
}
