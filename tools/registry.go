// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

// Package tools holds the process-wide tool registry: a built-in catalog,
// optionally overridden by a YAML file, merged with whatever the remote
// Portia registry reports at startup. The registry is immutable once
// loaded; a provider that fails to enumerate stays absent for the process
// lifetime.
package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ADML003/Nexus-AgentHack/shared/logger"
)

// Source labels for registry entries.
const (
	SourceBuiltin = "open_source"
	SourceCloud   = "cloud"
)

// DefaultLoadTimeout bounds how long startup waits for the remote
// registry before abandoning the fetch.
const DefaultLoadTimeout = 15 * time.Second

// Tool is one named capability a provider may invoke during a run.
type Tool struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category" yaml:"category"`
	Source      string `json:"source" yaml:"-"`
}

// Registry is the immutable tool list. Safe for unsynchronized concurrent
// reads.
type Registry struct {
	tools []Tool
}

// Tools returns a copy of all registered tools.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.tools)
}

// CountBySource returns the number of tools from the given source.
func (r *Registry) CountBySource(source string) int {
	n := 0
	for _, t := range r.tools {
		if t.Source == source {
			n++
		}
	}
	return n
}

// BySource returns the tools from the given source.
func (r *Registry) BySource(source string) []Tool {
	var out []Tool
	for _, t := range r.tools {
		if t.Source == source {
			out = append(out, t)
		}
	}
	return out
}

// LoadOptions configures Load.
type LoadOptions struct {
	// CatalogPath optionally points at a YAML file replacing the built-in
	// catalog.
	CatalogPath string

	// Remote fetches the cloud tool registry. Nil disables the fetch.
	Remote func(ctx context.Context) ([]Tool, error)

	// Timeout bounds the wait for Remote (default 15s). The fetch is
	// abandoned, not cancelled, when it elapses: a slow upstream must not
	// block the process from becoming ready.
	Timeout time.Duration

	Logger *logger.Logger
}

// Load builds the registry from the local catalog plus the remote
// registry, deduplicating by name with local entries winning.
func Load(ctx context.Context, opts LoadOptions) *Registry {
	log := opts.Logger
	if log == nil {
		log = logger.New("tools")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}

	local, err := loadCatalog(opts.CatalogPath)
	if err != nil {
		log.Warn("", "tool catalog load failed, using built-in defaults", map[string]any{
			"path":  opts.CatalogPath,
			"error": err.Error(),
		})
		local = builtinCatalog()
	}

	registry := &Registry{tools: local}
	if opts.Remote == nil {
		return registry
	}

	type fetchResult struct {
		tools []Tool
		err   error
	}
	ch := make(chan fetchResult, 1)
	go func() {
		remote, err := opts.Remote(ctx)
		ch <- fetchResult{tools: remote, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			log.Warn("", "remote tool registry unavailable, continuing with local catalog",
				map[string]any{"error": res.err.Error()})
			return registry
		}
		registry.tools = merge(local, res.tools)
		log.Info("", "tool registry loaded", map[string]any{
			"local":  len(local),
			"remote": len(res.tools),
			"total":  len(registry.tools),
		})
	case <-time.After(timeout):
		log.Warn("", "remote tool registry fetch abandoned after timeout",
			map[string]any{"timeout": timeout.String()})
	}

	return registry
}

// merge appends remote tools that do not collide with local names.
func merge(local, remote []Tool) []Tool {
	seen := make(map[string]bool, len(local))
	out := make([]Tool, 0, len(local)+len(remote))
	for _, t := range local {
		seen[t.Name] = true
		out = append(out, t)
	}
	for _, t := range remote {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		if t.Category == "" {
			t.Category = Categorize(t.Name)
		}
		if t.Source == "" {
			t.Source = SourceCloud
		}
		out = append(out, t)
	}
	return out
}

type catalogFile struct {
	Tools []Tool `yaml:"tools"`
}

func loadCatalog(path string) ([]Tool, error) {
	if path == "" {
		return builtinCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(file.Tools) == 0 {
		return nil, fmt.Errorf("catalog %s defines no tools", path)
	}

	tools := make([]Tool, len(file.Tools))
	for i, t := range file.Tools {
		if t.Category == "" {
			t.Category = Categorize(t.Name)
		}
		t.Source = SourceBuiltin
		tools[i] = t
	}
	return tools, nil
}

// Categorize infers a display category from a tool name.
func Categorize(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "search"), strings.Contains(n, "web"), strings.Contains(n, "crawl"):
		return "Search & Web"
	case strings.Contains(n, "calendar"), strings.Contains(n, "gmail"),
		strings.Contains(n, "slack"), strings.Contains(n, "docs"):
		return "Productivity"
	case strings.Contains(n, "weather"), strings.Contains(n, "map"):
		return "Information"
	case strings.Contains(n, "file"), strings.Contains(n, "document"), strings.Contains(n, "pdf"):
		return "File Management"
	case strings.Contains(n, "calculator"), strings.Contains(n, "math"):
		return "Calculation"
	case strings.Contains(n, "image"), strings.Contains(n, "vision"):
		return "Image & Vision"
	default:
		return "Utility"
	}
}

// builtinCatalog mirrors the open-source tool set of the agent SDK.
func builtinCatalog() []Tool {
	tools := []Tool{
		{ID: "calculator_tool", Name: "Calculator Tool", Description: "Evaluates arithmetic and math expressions"},
		{ID: "search_tool", Name: "Search Tool", Description: "Searches the web for up-to-date information"},
		{ID: "weather_tool", Name: "Weather Tool", Description: "Fetches current weather for a location"},
		{ID: "crawl_tool", Name: "Crawl Tool", Description: "Crawls a website and collects page contents"},
		{ID: "extract_tool", Name: "Extract Tool", Description: "Extracts structured content from a web page"},
		{ID: "map_tool", Name: "Map Tool", Description: "Resolves places and geographic lookups"},
		{ID: "file_reader_tool", Name: "File Reader Tool", Description: "Reads the contents of a local file"},
		{ID: "file_writer_tool", Name: "File Writer Tool", Description: "Writes content to a local file"},
		{ID: "image_understanding_tool", Name: "Image Understanding Tool", Description: "Answers questions about an image"},
		{ID: "llm_tool", Name: "LLM Tool", Description: "General reasoning over the query without external data"},
	}
	for i := range tools {
		tools[i].Category = Categorize(tools[i].Name)
		tools[i].Source = SourceBuiltin
	}
	return tools
}
